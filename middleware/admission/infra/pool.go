package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

const (
	defaultPollInterval   = 10 * time.Millisecond
	defaultCreateAttempts = 3
	defaultSpawnRate      = 20
)

// errSpawnThrottled: o limitador de criação não libera dentro do prazo.
var errSpawnThrottled = errors.New("handle spawn throttled")

type poolState uint8

const (
	poolNew poolState = iota
	poolRunning
	poolClosed
)

func (s poolState) String() string {
	switch s {
	case poolNew:
		return "new"
	case poolRunning:
		return "running"
	default:
		return "closed"
	}
}

// Pool mantém um conjunto limitado de handles, cria sob demanda até MaxHandles,
// recicla os saudáveis e descarta os que falham no probe.
//
// Acquire faz polling com prazo de relógio (não contagem de tentativas), então
// uma criação lenta ainda respeita o timeout total.
type Pool struct {
	cfg     domain.PoolConfig
	invoker domain.Invoker
	probe   domain.Command
	logger  *slog.Logger
	spawn   *rate.Limiter
	poll    time.Duration
	retries int
	now     func() time.Time

	mu        sync.Mutex
	state     poolState
	handles   map[string]*Handle
	available []*Handle
	pending   int
	nextID    uint64

	waiters *waitQueue
	closing chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type PoolOption func(*Pool)

func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProbe define o comando trivial usado no health check.
func WithProbe(cmd domain.Command) PoolOption {
	return func(p *Pool) { p.probe = cmd }
}

func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithSpawnRate limita a criação de processos auxiliares (token bucket).
// r <= 0 desliga o limite.
func WithSpawnRate(r float64, burst int) PoolOption {
	return func(p *Pool) {
		if r <= 0 {
			p.spawn = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.spawn = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithCreateAttempts define quantas tentativas de criação são feitas ao
// preencher o mínimo.
func WithCreateAttempts(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.retries = n
		}
	}
}

func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

func NewPool(cfg domain.PoolConfig, inv domain.Invoker, opts ...PoolOption) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, errors.New("pool: invoker is required")
	}
	p := &Pool{
		cfg:     cfg,
		invoker: inv,
		probe:   domain.Command{Name: "probe"},
		logger:  slog.Default(),
		spawn:   rate.NewLimiter(defaultSpawnRate, cfg.MaxHandles),
		poll:    defaultPollInterval,
		retries: defaultCreateAttempts,
		now:     time.Now,
		handles: make(map[string]*Handle),
		waiters: newWaitQueue(cfg.MaxWaitQueueLength),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start preenche o pool até MinHandles e inicia a manutenção periódica.
// Pare com Shutdown.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != poolNew {
		p.mu.Unlock()
		return fmt.Errorf("pool: start in state %s", p.state)
	}
	p.state = poolRunning
	p.mu.Unlock()

	for i := 0; i < p.cfg.MinHandles; i++ {
		h, err := p.spawnWithRetry(ctx)
		if err != nil {
			_ = p.Shutdown(ctx)
			return fmt.Errorf("pool: fill to minimum: %w", err)
		}
		if !p.adopt(h) {
			return domain.ErrPoolClosed
		}
	}

	if p.cfg.HealthCheckInterval > 0 {
		mctx, cancel := context.WithCancel(context.Background())
		p.mu.Lock()
		p.cancel = cancel
		p.done = make(chan struct{})
		done := p.done
		p.mu.Unlock()
		go p.maintenanceLoop(mctx, done)
	}

	p.logger.Info("handle pool started",
		"min", p.cfg.MinHandles,
		"max", p.cfg.MaxHandles,
		"health_check_interval", p.cfg.HealthCheckInterval)
	return nil
}

// adopt coloca um handle recém criado no conjunto disponível.
func (p *Pool) adopt(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == poolClosed {
		h.close()
		return false
	}
	p.handles[h.id] = h
	p.available = append(p.available, h)
	return true
}

// Acquire retorna um handle saudável.
//
// Erros: domain.ErrAcquireTimeout (prazo esgotado), domain.ErrQueueFull
// (fila de espera cheia), domain.ErrPoolClosed, ou o erro do ctx.
// timeout <= 0 usa AcquireTimeout da configuração.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (domain.Handle, error) {
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	deadline := time.Now().Add(timeout)
	actx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var leave func()
	defer func() {
		if leave != nil {
			leave()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s", domain.ErrAcquireTimeout, timeout)
		}

		p.mu.Lock()
		if p.state == poolClosed {
			p.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}

		// (a) reaproveita um disponível
		for len(p.available) > 0 {
			h := p.available[0]
			p.available = p.available[1:]
			if h.checkout() {
				p.mu.Unlock()
				return h, nil
			}
			p.discardLocked(h, "unhealthy on acquire")
		}

		// (b) cria um novo se houver espaço
		if len(p.handles)+p.pending < p.cfg.MaxHandles {
			p.pending++
			p.mu.Unlock()

			h, err := p.spawnHandle(actx)

			p.mu.Lock()
			p.pending--
			if err == nil {
				if p.state == poolClosed {
					p.mu.Unlock()
					h.close()
					return nil, domain.ErrPoolClosed
				}
				p.handles[h.id] = h
				if actx.Err() != nil {
					// cancelado durante a criação: o handle fica para o próximo
					p.available = append(p.available, h)
					p.mu.Unlock()
					continue
				}
				h.setStatus(domain.HandleInUse)
				p.mu.Unlock()
				return h, nil
			}
			if !errors.Is(err, errSpawnThrottled) {
				// falha de criação: espera o polling antes de tentar de novo
				p.logger.Debug("handle creation failed", "error", err)
			}
		}

		// (c) entra na fila de espera (uma vez por chamada)
		if leave == nil {
			l, ok := p.waiters.TryEnter()
			if !ok {
				p.mu.Unlock()
				return nil, domain.ErrQueueFull
			}
			leave = l
		}
		p.mu.Unlock()

		// (d) espera o intervalo de polling, sem passar do prazo
		wait := p.poll
		if rem := time.Until(deadline); rem < wait {
			wait = rem
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.closing:
			timer.Stop()
			return nil, domain.ErrPoolClosed
		case <-timer.C:
		}
	}
}

// Release devolve o handle. Handles não saudáveis são descartados (o pool encolhe).
func (p *Pool) Release(dh domain.Handle) {
	h, ok := dh.(*Handle)
	if !ok || h == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handles[h.id] != h {
		// já descartado, ou o pool fechou
		h.close()
		return
	}
	if h.Status() != domain.HandleInUse {
		return
	}
	if !h.Healthy() {
		p.discardLocked(h, "unhealthy on release")
		return
	}
	h.checkin(p.now())
	p.available = append(p.available, h)
}

func (p *Pool) discardLocked(h *Handle, why string) {
	delete(p.handles, h.id)
	for i, a := range p.available {
		if a == h {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	h.close()
	p.logger.Debug("handle discarded", "handle_id", h.id, "reason", why, "total", len(p.handles))
}

func (p *Pool) spawnHandle(ctx context.Context) (*Handle, error) {
	if p.spawn != nil {
		if err := p.spawn.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errSpawnThrottled, err)
		}
	}

	p.mu.Lock()
	p.nextID++
	id := "h-" + strconv.FormatUint(p.nextID, 10)
	p.mu.Unlock()

	h := newHandle(id, p.invoker, p.probe, p.now())
	if !h.HealthCheck(ctx) {
		h.close()
		return nil, fmt.Errorf("%w: %s failed initial probe", domain.ErrHandleUnhealthy, id)
	}
	p.logger.Debug("handle created", "handle_id", id)
	return h, nil
}

func (p *Pool) spawnWithRetry(ctx context.Context) (*Handle, error) {
	var lastErr error
	for i := 0; i < p.retries; i++ {
		h, err := p.spawnHandle(ctx)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (p *Pool) maintenanceLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(p.cfg.HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.runMaintenance(ctx)
		}
	}
}

// runMaintenance: probe de cada handle, descarte dos que falham, reaping dos
// ociosos além de MaxIdleDuration e reposição até MinHandles.
//
// Nunca segura p.mu durante um probe externo, e os handles continuam em
// available enquanto isso: um Acquire concorrente não espera pela rodada.
func (p *Pool) runMaintenance(ctx context.Context) {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return
	}
	snapshot := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		snapshot = append(snapshot, h)
	}
	p.mu.Unlock()

	var failed []*Handle
	for _, h := range snapshot {
		// cancelado no meio (Shutdown): não pune quem não foi checado
		if ctx.Err() != nil {
			break
		}
		// ocupado com um comando: o próprio Run reporta falhas críticas
		if checked, ok := h.tryHealthCheck(ctx); checked && !ok && ctx.Err() == nil {
			failed = append(failed, h)
		}
	}

	p.mu.Lock()
	evicted := 0
	for _, h := range failed {
		if p.handles[h.id] != h {
			continue
		}
		// em uso: Release descarta; checkout já recusa os não saudáveis
		if h.Status() != domain.HandleAvailable {
			continue
		}
		p.discardLocked(h, "failed health check")
		evicted++
	}
	reaped := p.reapIdleLocked(p.now())
	missing := p.cfg.MinHandles - (len(p.handles) + p.pending)
	if missing < 0 || p.state != poolRunning {
		missing = 0
	}
	p.pending += missing
	p.mu.Unlock()

	created := 0
	for i := 0; i < missing; i++ {
		h, err := p.spawnWithRetry(ctx)
		p.mu.Lock()
		p.pending--
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn("handle refill failed", "error", err)
			continue
		}
		if p.adopt(h) {
			created++
		}
	}

	if evicted+reaped+created > 0 {
		p.logger.Info("handle pool maintenance",
			"evicted", evicted,
			"reaped", reaped,
			"created", created)
	}
}

// reapIdleLocked remove ociosos além de MaxIdleDuration, os mais antigos
// primeiro, sem descer abaixo de MinHandles.
func (p *Pool) reapIdleLocked(now time.Time) int {
	if p.cfg.MaxIdleDuration <= 0 {
		return 0
	}
	var idle []*Handle
	for _, h := range p.available {
		if now.Sub(h.idleSince()) > p.cfg.MaxIdleDuration {
			idle = append(idle, h)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].idleSince().Before(idle[j].idleSince()) })

	reaped := 0
	for _, h := range idle {
		if len(p.handles)+p.pending <= p.cfg.MinHandles {
			break
		}
		p.discardLocked(h, "idle")
		reaped++
	}
	return reaped
}

// Shutdown para a manutenção, espera ela terminar e fecha todos os handles,
// inclusive os em uso (encerramento forçado, sem drenar).
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = poolClosed
	close(p.closing)
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	p.mu.Lock()
	n := len(p.handles)
	for id, h := range p.handles {
		h.close()
		delete(p.handles, id)
	}
	p.available = nil
	p.mu.Unlock()

	p.logger.Info("handle pool stopped", "closed_handles", n)
	return err
}

// Metrics retorna uma fotografia do pool.
func (p *Pool) Metrics() domain.PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	m := domain.PoolMetrics{
		Status:           p.state.String(),
		TotalHandles:     len(p.handles),
		AvailableHandles: len(p.available),
		QueueDepth:       p.waiters.Len(),
		Handles:          make([]domain.HandleMetrics, 0, len(p.handles)),
	}
	for _, h := range p.handles {
		hm := h.metrics(now)
		if hm.Status == domain.HandleInUse.String() {
			m.InUseHandles++
		}
		m.Handles = append(m.Handles, hm)
	}
	sort.Slice(m.Handles, func(i, j int) bool { return m.Handles[i].ID < m.Handles[j].ID })
	return m
}

// Total retorna quantos handles existem (disponíveis + em uso).
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
