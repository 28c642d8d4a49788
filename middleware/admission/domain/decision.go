package domain

import "time"

// Motivos de negação conhecidos (Decision.Reason).
const (
	ReasonResources  = "resources"
	ReasonTimeout    = "timeout"
	ReasonCapacity   = "capacity"
	ReasonConflict   = "conflict"
	ReasonDuplicate  = "duplicate"
	ReasonCallerRate = "caller_rate" // taxa do chamador na classe pedida
)

// Decision é o resultado de uma checagem de admissão.
//
// É um valor imutável: quem recebe não deve alterar os slices.
type Decision struct {
	Allowed    bool
	Violations []string
	Warnings   []string
	// RetryAfter é a espera sugerida antes de tentar novamente.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Reason identifica a checagem que negou (vazio quando permitido).
	Reason string
}

// Allow retorna uma decisão positiva com os avisos informados.
func Allow(warnings ...string) Decision {
	return Decision{Allowed: true, Warnings: warnings}
}

// SuggestedWaitSeconds retorna RetryAfter em segundos (0 quando não há sugestão).
func (d Decision) SuggestedWaitSeconds() float64 {
	return d.RetryAfter.Seconds()
}

// Merge acumula os avisos de d em next, preservando a decisão de next.
// RetryAfter fica com o maior dos dois.
func (d Decision) Merge(next Decision) Decision {
	out := next
	if len(d.Warnings) > 0 {
		w := make([]string, 0, len(d.Warnings)+len(next.Warnings))
		w = append(w, d.Warnings...)
		w = append(w, next.Warnings...)
		out.Warnings = w
	}
	if len(d.Violations) > 0 {
		v := make([]string, 0, len(d.Violations)+len(next.Violations))
		v = append(v, d.Violations...)
		v = append(v, next.Violations...)
		out.Violations = v
	}
	if d.RetryAfter > out.RetryAfter {
		out.RetryAfter = d.RetryAfter
	}
	return out
}
