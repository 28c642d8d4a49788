package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"

	"github.com/google/uuid"
)

// Request é um pedido de admissão.
type Request struct {
	// OperationID vazio faz Reserve gerar um id.
	OperationID string
	Category    domain.Category
	Resources   map[domain.Resource]float64
	// Timeout nil significa "padrão da categoria".
	Timeout *time.Duration
	// Caller identifica quem pede, para o rate limit por chamador.
	Caller string
}

// Gateway compõe monitor de recursos, política de timeout e gate de concorrência
// em uma única decisão.
//
// Validate é só consultivo. Reserve valida e registra sob o mesmo lock, então
// duas reservas concorrentes nunca passam ambas pela mesma vaga.
type Gateway struct {
	mu       sync.Mutex
	monitor  *ResourceMonitor
	timeouts TimeoutPolicy
	gate     *ConcurrencyGate
	stats    domain.StatsStore
	logger   *slog.Logger
}

type GatewayOption func(*Gateway)

func WithStats(s domain.StatsStore) GatewayOption {
	return func(g *Gateway) { g.stats = s }
}

func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGateway(monitor *ResourceMonitor, timeouts TimeoutPolicy, gate *ConcurrencyGate, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		monitor:  monitor,
		timeouts: timeouts,
		gate:     gate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Monitor() *ResourceMonitor { return g.monitor }
func (g *Gateway) Gate() *ConcurrencyGate    { return g.gate }
func (g *Gateway) Timeouts() TimeoutPolicy   { return g.timeouts }

// Validate roda as checagens sem alterar estado.
//
// Retorna erro apenas para violação de contrato (categoria desconhecida,
// timeout não positivo); negações comuns vêm na Decision.
func (g *Gateway) Validate(req Request) (domain.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked(req)
}

func (g *Gateway) validateLocked(req Request) (domain.Decision, error) {
	if !req.Category.Valid() {
		return domain.Decision{
			Violations: []string{fmt.Sprintf("unknown category %s", req.Category)},
		}, domain.ErrUnknownCategory
	}

	dec := g.monitor.Check(withConcurrency(req.Resources))
	if !dec.Allowed {
		return dec, nil
	}

	acc := dec
	dec = g.timeouts.Check(req.Category, req.Timeout)
	if !dec.Allowed {
		out := acc.Merge(dec)
		if req.Timeout != nil && *req.Timeout <= 0 {
			return out, fmt.Errorf("%w: %s", domain.ErrInvalidTimeout, *req.Timeout)
		}
		return out, nil
	}

	acc = acc.Merge(dec)
	return acc.Merge(g.gate.CanStart(req.OperationID, req.Category)), nil
}

// Reserve valida e, se permitido, registra a operação no gate e no monitor.
//
// Quando a decisão nega, a Reservation é nil e o erro é nil (negação é dado).
func (g *Gateway) Reserve(ctx context.Context, req Request) (*Reservation, domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Decision{}, err
	}
	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	res, dec, err := g.reserve(req)
	g.record(ctx, req, dec)

	switch {
	case err != nil:
		g.logger.Warn("admission rejected", "operation_id", req.OperationID, "category", req.Category.String(), "error", err)
	case !dec.Allowed:
		g.logger.Info("admission denied",
			"operation_id", req.OperationID,
			"category", req.Category.String(),
			"reason", dec.Reason,
			"retry_after", dec.RetryAfter)
	default:
		g.logger.Debug("admission granted", "operation_id", req.OperationID, "category", req.Category.String(), "warnings", len(dec.Warnings))
	}
	return res, dec, err
}

func (g *Gateway) reserve(req Request) (*Reservation, domain.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dec, err := g.validateLocked(req)
	if err != nil || !dec.Allowed {
		return nil, dec, err
	}

	// o gate revalida sob o próprio lock; com g.mu preso o resultado é o mesmo
	if sd := g.gate.Start(req.OperationID, req.Category); !sd.Allowed {
		return nil, dec.Merge(sd), nil
	}
	g.monitor.Register(req.OperationID, withConcurrency(req.Resources))

	return &Reservation{
		OperationID: req.OperationID,
		Token:       uuid.NewString(),
		Category:    req.Category,
		Timeout:     g.timeouts.Effective(req.Category, req.Timeout),
		Decision:    dec,
		gw:          g,
	}, dec, nil
}

// Start reserva uma operação usando os recursos e timeout padrão.
func (g *Gateway) Start(ctx context.Context, opID string, c domain.Category) (*Reservation, domain.Decision, error) {
	return g.Reserve(ctx, Request{OperationID: opID, Category: c})
}

// End encerra a operação no gate e no monitor. Ids desconhecidos são ignorados.
func (g *Gateway) End(opID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate.End(opID)
	g.monitor.Unregister(opID)
}

func (g *Gateway) record(ctx context.Context, req Request, dec domain.Decision) {
	if g.stats == nil {
		return
	}
	if err := g.stats.Record(ctx, domain.StatsEvent{
		OperationID: req.OperationID,
		Category:    req.Category,
		Allowed:     dec.Allowed,
		Reason:      dec.Reason,
		At:          time.Now(),
	}); err != nil {
		g.logger.Debug("stats record failed", "error", err)
	}
}

func withConcurrency(usage map[domain.Resource]float64) map[domain.Resource]float64 {
	out := make(map[domain.Resource]float64, len(usage)+1)
	for k, v := range usage {
		out[k] = v
	}
	if _, ok := out[domain.ResourceConcurrentOperations]; !ok {
		out[domain.ResourceConcurrentOperations] = 1
	}
	return out
}

// Reservation é uma operação admitida. End deve ser chamado ao terminar.
type Reservation struct {
	OperationID string
	Token       string
	Category    domain.Category
	// Timeout é o timeout efetivo (pedido ou padrão da categoria).
	Timeout  time.Duration
	Decision domain.Decision

	gw   *Gateway
	once sync.Once
}

// End libera a reserva. Pode ser chamado mais de uma vez.
func (r *Reservation) End() {
	if r == nil {
		return
	}
	r.once.Do(func() { r.gw.End(r.OperationID) })
}
