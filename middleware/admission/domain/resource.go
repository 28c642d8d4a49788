package domain

import (
	"fmt"
	"strings"
	"time"
)

// Resource é a categoria de recurso contabilizada pelo monitor.
type Resource string

const (
	ResourceConcurrentOperations Resource = "concurrent_operations"
	ResourceExternalConnections  Resource = "external_connections"
	ResourceMemoryMB             Resource = "memory_mb"
)

// Resources lista os recursos conhecidos, em ordem estável.
var Resources = []Resource{
	ResourceConcurrentOperations,
	ResourceExternalConnections,
	ResourceMemoryMB,
}

// ParseResource converte o nome textual em Resource.
func ParseResource(s string) (Resource, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range Resources {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

// Action define o que acontece quando o uso projetado ultrapassa MaxValue.
type Action uint8

const (
	ActionWarn Action = iota
	ActionThrottle
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionThrottle:
		return "throttle"
	case ActionBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseAction converte "warn" | "throttle" | "block".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn":
		return ActionWarn, nil
	case "throttle":
		return ActionThrottle, nil
	case "block":
		return ActionBlock, nil
	}
	return ActionWarn, fmt.Errorf("unknown enforcement action %q", s)
}

// ResourceLimit é o limite configurado para um recurso.
type ResourceLimit struct {
	Resource Resource
	Max      float64
	// Warning deve ser < Max.
	Warning float64
	Action  Action
	Window  time.Duration
}

func (l ResourceLimit) Validate() error {
	if l.Max <= 0 {
		return fmt.Errorf("limit %s: max must be > 0", l.Resource)
	}
	if l.Warning >= l.Max {
		return fmt.Errorf("limit %s: warning (%v) must be < max (%v)", l.Resource, l.Warning, l.Max)
	}
	if l.Window <= 0 && l.Resource != ResourceConcurrentOperations {
		return fmt.Errorf("limit %s: window must be > 0", l.Resource)
	}
	return nil
}

// DefaultLimits retorna os limites documentados.
func DefaultLimits() []ResourceLimit {
	return []ResourceLimit{
		{Resource: ResourceConcurrentOperations, Max: 50, Warning: 40, Action: ActionBlock, Window: 60 * time.Second},
		{Resource: ResourceExternalConnections, Max: 10, Warning: 8, Action: ActionThrottle, Window: 30 * time.Second},
		{Resource: ResourceMemoryMB, Max: 100, Warning: 80, Action: ActionWarn, Window: 300 * time.Second},
	}
}

type SampleKind uint8

const (
	SampleStart SampleKind = iota
	SampleEnd
)

// UsageSample é uma amostra com sinal (Start soma, End subtrai).
type UsageSample struct {
	At    time.Time
	Delta float64
	Kind  SampleKind
}

// OperationRecord é uma operação em execução, mantida pelo gate.
type OperationRecord struct {
	OperationID string
	Category    Category
	StartedAt   time.Time
}
