package application

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"
)

const (
	defaultMaxConcurrent = 50
	conflictRetryAfter   = 5 * time.Second
	minCapacityWait      = 1 * time.Second
	maxCapacityWait      = 10 * time.Second
)

// ConcurrencyGate mantém as operações em voo e impede que categorias
// conflitantes rodem ao mesmo tempo.
type ConcurrencyGate struct {
	mu            sync.Mutex
	maxConcurrent int
	conflicts     domain.ConflictTable
	inflight      map[string]domain.OperationRecord
	now           func() time.Time
}

type GateOption func(*ConcurrencyGate)

func WithMaxConcurrent(n int) GateOption {
	return func(g *ConcurrencyGate) { g.maxConcurrent = n }
}

func WithGateClock(now func() time.Time) GateOption {
	return func(g *ConcurrencyGate) { g.now = now }
}

func NewConcurrencyGate(conflicts domain.ConflictTable, opts ...GateOption) *ConcurrencyGate {
	g := &ConcurrencyGate{
		maxConcurrent: defaultMaxConcurrent,
		conflicts:     conflicts,
		inflight:      make(map[string]domain.OperationRecord),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanStart avalia se a operação poderia começar agora. Não altera estado.
func (g *ConcurrencyGate) CanStart(opID string, c domain.Category) domain.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canStartLocked(opID, c)
}

// Start verifica e registra a operação sob o mesmo lock.
// A operação só fica em voo quando a decisão retornada é Allowed.
func (g *ConcurrencyGate) Start(opID string, c domain.Category) domain.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	dec := g.canStartLocked(opID, c)
	if !dec.Allowed {
		return dec
	}
	g.inflight[opID] = domain.OperationRecord{OperationID: opID, Category: c, StartedAt: g.now()}
	return dec
}

// End remove a operação. Ids desconhecidos são ignorados.
func (g *ConcurrencyGate) End(opID string) {
	g.mu.Lock()
	delete(g.inflight, opID)
	g.mu.Unlock()
}

func (g *ConcurrencyGate) canStartLocked(opID string, c domain.Category) domain.Decision {
	if _, dup := g.inflight[opID]; dup {
		return domain.Decision{
			Violations: []string{fmt.Sprintf("operation %q already in flight", opID)},
			Reason:     domain.ReasonDuplicate,
		}
	}

	if g.maxConcurrent > 0 && len(g.inflight) >= g.maxConcurrent {
		return domain.Decision{
			Violations: []string{fmt.Sprintf("concurrency capacity reached (%d/%d)", len(g.inflight), g.maxConcurrent)},
			RetryAfter: g.capacityWaitLocked(),
			Reason:     domain.ReasonCapacity,
		}
	}

	for _, rec := range g.inflight {
		if g.conflicts.Conflicts(c, rec.Category) {
			return domain.Decision{
				Warnings:   []string{fmt.Sprintf("%s conflicts with in-flight %s (%s)", c, rec.Category, rec.OperationID)},
				RetryAfter: conflictRetryAfter,
				Reason:     domain.ReasonConflict,
			}
		}
	}
	return domain.Allow()
}

// capacityWaitLocked: metade da idade da operação mais antiga, entre 1s e 10s.
func (g *ConcurrencyGate) capacityWaitLocked() time.Duration {
	var oldest time.Time
	for _, rec := range g.inflight {
		if oldest.IsZero() || rec.StartedAt.Before(oldest) {
			oldest = rec.StartedAt
		}
	}
	wait := g.now().Sub(oldest) / 2
	if wait < minCapacityWait {
		return minCapacityWait
	}
	if wait > maxCapacityWait {
		return maxCapacityWait
	}
	return wait
}

// InFlight retorna uma cópia das operações em voo, mais antigas primeiro.
func (g *ConcurrencyGate) InFlight() []domain.OperationRecord {
	g.mu.Lock()
	out := make([]domain.OperationRecord, 0, len(g.inflight))
	for _, rec := range g.inflight {
		out = append(out, rec)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (g *ConcurrencyGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
