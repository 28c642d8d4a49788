package application

import (
	"fmt"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"
)

const defaultBaseBackoff = 2 * time.Second

// ResourceMonitor contabiliza uso por recurso em janela deslizante e decide
// admissão contra os limites configurados.
//
// Exceção: concurrent_operations é o número de operações vivas, não a soma da janela.
type ResourceMonitor struct {
	mu          sync.Mutex
	limits      map[domain.Resource]domain.ResourceLimit
	samples     map[domain.Resource][]domain.UsageSample
	inflight    map[string]map[domain.Resource]float64
	baseBackoff time.Duration
	now         func() time.Time
}

type MonitorOption func(*ResourceMonitor)

// WithBaseBackoff define a espera sugerida por violação.
func WithBaseBackoff(d time.Duration) MonitorOption {
	return func(m *ResourceMonitor) { m.baseBackoff = d }
}

// WithMonitorClock troca o relógio (testes).
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *ResourceMonitor) { m.now = now }
}

func NewResourceMonitor(limits []domain.ResourceLimit, opts ...MonitorOption) *ResourceMonitor {
	m := &ResourceMonitor{
		limits:      make(map[domain.Resource]domain.ResourceLimit, len(limits)),
		samples:     make(map[domain.Resource][]domain.UsageSample),
		inflight:    make(map[string]map[domain.Resource]float64),
		baseBackoff: defaultBaseBackoff,
		now:         time.Now,
	}
	for _, l := range limits {
		m.limits[l.Resource] = l
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check avalia o uso estimado contra os limites. Não altera estado.
func (m *ResourceMonitor) Check(estimated map[domain.Resource]float64) domain.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var violations, warnings []string

	// ordem estável para mensagens determinísticas
	for _, res := range domain.Resources {
		est, ok := estimated[res]
		if !ok {
			continue
		}
		lim, ok := m.limits[res]
		if !ok {
			continue
		}

		projected := m.currentLocked(res, lim, now) + est
		switch {
		case projected > lim.Max:
			msg := fmt.Sprintf("%s: projected %.2f exceeds limit %.2f", res, projected, lim.Max)
			switch lim.Action {
			case domain.ActionBlock:
				violations = append(violations, msg)
			case domain.ActionThrottle:
				warnings = append(warnings, msg+" (throttled)")
			default:
				warnings = append(warnings, msg)
			}
		case projected > lim.Warning:
			warnings = append(warnings, fmt.Sprintf("%s: projected %.2f above warning threshold %.2f", res, projected, lim.Warning))
		}
	}

	if len(violations) == 0 {
		return domain.Decision{Allowed: true, Warnings: warnings}
	}
	return domain.Decision{
		Violations: violations,
		Warnings:   warnings,
		RetryAfter: m.baseBackoff * time.Duration(len(violations)),
		Reason:     domain.ReasonResources,
	}
}

// Current retorna o uso atual de res.
func (m *ResourceMonitor) Current(res domain.Resource) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(res, m.limits[res], m.now())
}

func (m *ResourceMonitor) currentLocked(res domain.Resource, lim domain.ResourceLimit, now time.Time) float64 {
	if res == domain.ResourceConcurrentOperations {
		return float64(len(m.inflight))
	}

	m.pruneLocked(res, lim.Window, now)
	var sum float64
	for _, s := range m.samples[res] {
		sum += s.Delta
	}
	// um End pode sobreviver ao Start que saiu da janela
	if sum < 0 {
		return 0
	}
	return sum
}

func (m *ResourceMonitor) pruneLocked(res domain.Resource, window time.Duration, now time.Time) {
	ss := m.samples[res]
	if window <= 0 || len(ss) == 0 {
		return
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(ss) && ss[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples[res] = append(ss[:0:0], ss[i:]...)
	}
}

// Register grava amostras Start e marca a operação como viva.
// Registrar o mesmo id duas vezes não duplica.
func (m *ResourceMonitor) Register(opID string, usage map[domain.Resource]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inflight[opID]; ok {
		return
	}
	now := m.now()
	kept := make(map[domain.Resource]float64, len(usage))
	for res, v := range usage {
		kept[res] = v
		if !m.sampledLocked(res) {
			continue
		}
		m.samples[res] = append(m.samples[res], domain.UsageSample{At: now, Delta: v, Kind: domain.SampleStart})
		m.pruneLocked(res, m.limits[res].Window, now)
	}
	m.inflight[opID] = kept
}

// Unregister grava amostras End com o uso registrado e remove a operação viva.
func (m *ResourceMonitor) Unregister(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, ok := m.inflight[opID]
	if !ok {
		return
	}
	delete(m.inflight, opID)

	now := m.now()
	for res, v := range usage {
		if !m.sampledLocked(res) {
			continue
		}
		m.samples[res] = append(m.samples[res], domain.UsageSample{At: now, Delta: -v, Kind: domain.SampleEnd})
		m.pruneLocked(res, m.limits[res].Window, now)
	}
}

// sampledLocked: só recursos com limite guardam amostras; sem limite ninguém
// consulta nem poda a série.
func (m *ResourceMonitor) sampledLocked(res domain.Resource) bool {
	if res == domain.ResourceConcurrentOperations {
		return false
	}
	_, ok := m.limits[res]
	return ok
}

// InFlight retorna quantas operações estão registradas.
func (m *ResourceMonitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}
