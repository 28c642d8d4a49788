package application

import (
	"fmt"
	"time"

	"automation-gateway/middleware/admission/domain"
)

// DefaultTimeouts são os tetos padrão por classe de categoria.
func DefaultTimeouts() map[domain.Class]time.Duration {
	return map[domain.Class]time.Duration{
		domain.ClassMacro:   30 * time.Second,
		domain.ClassFile:    10 * time.Second,
		domain.ClassScript:  15 * time.Second,
		domain.ClassSystem:  5 * time.Second,
		domain.ClassNetwork: 30 * time.Second,
	}
}

const defaultFallbackTimeout = 30 * time.Second

// TimeoutPolicy valida o timeout pedido pelo chamador.
//
// Regra: até o padrão da classe passa; até 2x o padrão passa com aviso;
// acima disso (ou <= 0) é violação.
type TimeoutPolicy struct {
	Defaults map[domain.Class]time.Duration
	Fallback time.Duration
}

// DefaultFor retorna o teto padrão da categoria.
func (p TimeoutPolicy) DefaultFor(c domain.Category) time.Duration {
	if d, ok := p.Defaults[c.Class()]; ok && d > 0 {
		return d
	}
	if p.Fallback > 0 {
		return p.Fallback
	}
	return defaultFallbackTimeout
}

// Effective retorna o timeout que vale para a execução (pedido ou padrão).
func (p TimeoutPolicy) Effective(c domain.Category, requested *time.Duration) time.Duration {
	if requested != nil {
		return *requested
	}
	return p.DefaultFor(c)
}

// Check avalia requested; nil significa "use o padrão da categoria".
func (p TimeoutPolicy) Check(c domain.Category, requested *time.Duration) domain.Decision {
	def := p.DefaultFor(c)
	eff := p.Effective(c, requested)

	switch {
	case eff <= 0:
		return domain.Decision{
			Violations: []string{fmt.Sprintf("timeout: %s must be positive", eff)},
			Reason:     domain.ReasonTimeout,
		}
	case eff > 2*def:
		return domain.Decision{
			Violations: []string{fmt.Sprintf("timeout: %s exceeds hard ceiling %s for %s", eff, 2*def, c)},
			Reason:     domain.ReasonTimeout,
		}
	case eff > def:
		return domain.Allow(fmt.Sprintf("timeout: %s above default %s for %s", eff, def, c))
	}
	return domain.Allow()
}
