package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"
)

// Handle executa um comando por vez através do Invoker.
//
// A saúde é monotônica: depois que um probe falha, o handle nunca volta a ser
// saudável e deve ser descartado pelo pool.
type Handle struct {
	id      string
	invoker domain.Invoker
	probe   domain.Command

	// runMu serializa Run e HealthCheck
	runMu sync.Mutex

	mu         sync.Mutex
	status     domain.HandleStatus
	healthy    bool
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	errorCount int64
}

func newHandle(id string, inv domain.Invoker, probe domain.Command, now time.Time) *Handle {
	return &Handle{
		id:         id,
		invoker:    inv,
		probe:      probe,
		status:     domain.HandleAvailable,
		healthy:    true,
		createdAt:  now,
		lastUsedAt: now,
	}
}

func (h *Handle) ID() string { return h.id }

// Run executa cmd. Falhas do comando contam em errorCount mas não alteram a saúde.
func (h *Handle) Run(ctx context.Context, cmd domain.Command) (domain.Result, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	h.mu.Lock()
	switch {
	case h.status == domain.HandleClosed:
		h.mu.Unlock()
		return domain.Result{}, fmt.Errorf("handle %s: %w", h.id, domain.ErrPoolClosed)
	case !h.healthy:
		h.mu.Unlock()
		return domain.Result{}, fmt.Errorf("handle %s: %w", h.id, domain.ErrHandleUnhealthy)
	}
	h.useCount++
	h.mu.Unlock()

	res, err := h.invoker.Invoke(ctx, cmd)

	h.mu.Lock()
	if err != nil {
		h.errorCount++
		// falha crítica do motor: o handle não é mais confiável
		if domain.IsCritical(err) {
			h.healthy = false
		}
	}
	h.mu.Unlock()
	return res, err
}

// HealthCheck roda o comando de probe. Falha marca o handle como não saudável
// para sempre.
func (h *Handle) HealthCheck(ctx context.Context) bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.healthCheckLocked(ctx)
}

// tryHealthCheck só roda o probe se o handle não estiver executando nada;
// checked=false quando ele está ocupado.
func (h *Handle) tryHealthCheck(ctx context.Context) (checked, healthy bool) {
	if !h.runMu.TryLock() {
		return false, h.Healthy()
	}
	defer h.runMu.Unlock()
	return true, h.healthCheckLocked(ctx)
}

// healthCheckLocked exige runMu.
func (h *Handle) healthCheckLocked(ctx context.Context) bool {
	h.mu.Lock()
	if h.status == domain.HandleClosed || !h.healthy {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()

	_, err := h.invoker.Invoke(ctx, h.probe)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.errorCount++
		h.healthy = false
		return false
	}
	return true
}

// IsAvailable: saudável e com status Available.
func (h *Handle) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy && h.status == domain.HandleAvailable
}

func (h *Handle) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

func (h *Handle) Status() domain.HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) setStatus(s domain.HandleStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// checkout marca o handle como em uso se ele estiver disponível e saudável.
func (h *Handle) checkout() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.healthy || h.status != domain.HandleAvailable {
		return false
	}
	h.status = domain.HandleInUse
	return true
}

// checkin devolve o handle; now atualiza lastUsedAt.
func (h *Handle) checkin(now time.Time) {
	h.mu.Lock()
	h.status = domain.HandleAvailable
	h.lastUsedAt = now
	h.mu.Unlock()
}

func (h *Handle) close() {
	h.mu.Lock()
	h.status = domain.HandleClosed
	h.mu.Unlock()
}

func (h *Handle) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsedAt
}

func (h *Handle) metrics(now time.Time) domain.HandleMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := domain.HandleMetrics{
		ID:         h.id,
		Status:     h.status.String(),
		Healthy:    h.healthy,
		Age:        now.Sub(h.createdAt),
		UseCount:   h.useCount,
		ErrorCount: h.errorCount,
	}
	if h.status == domain.HandleAvailable {
		m.IdleTime = now.Sub(h.lastUsedAt)
	}
	return m
}
