package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Command é o comando opaco repassado ao motor externo.
// O conteúdo não é interpretado por esta camada.
type Command struct {
	Name   string
	Args   []string
	Script string
}

// Result é o que o invocador externo devolve.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Elapsed  time.Duration
}

// Invoker executa um comando via um processo externo novo (one-shot).
//
// Para o pool só importa sucesso/falha e o tempo gasto.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) (Result, error)
}

// Handle é a capacidade de executar um comando por vez.
type Handle interface {
	ID() string
	Run(ctx context.Context, cmd Command) (Result, error)
}

// HandlePool representa um conjunto limitado de handles reutilizáveis.
//
// Acquire bloqueia até conseguir um handle, até o timeout ou até o ctx encerrar.
// Todo handle adquirido deve ser devolvido exatamente uma vez via Release.
type HandlePool interface {
	Acquire(ctx context.Context, timeout time.Duration) (Handle, error)
	Release(h Handle)
}

type HandleStatus uint8

const (
	HandleAvailable HandleStatus = iota
	HandleInUse
	HandleClosed
)

func (s HandleStatus) String() string {
	switch s {
	case HandleAvailable:
		return "available"
	case HandleInUse:
		return "in_use"
	case HandleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PoolConfig configura o pool de handles.
type PoolConfig struct {
	MaxHandles          int
	MinHandles          int
	MaxIdleDuration     time.Duration
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration
	// MaxWaitQueueLength limita quantos chamadores podem esperar ao mesmo tempo.
	// <= 0 significa sem limite.
	MaxWaitQueueLength int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxHandles:          5,
		MinHandles:          1,
		MaxIdleDuration:     300 * time.Second,
		AcquireTimeout:      30 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		MaxWaitQueueLength:  100,
	}
}

func (c PoolConfig) Validate() error {
	if c.MaxHandles <= 0 {
		return errors.New("pool: max handles must be > 0")
	}
	if c.MinHandles < 0 || c.MinHandles > c.MaxHandles {
		return fmt.Errorf("pool: min handles (%d) must be between 0 and max (%d)", c.MinHandles, c.MaxHandles)
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("pool: acquire timeout must be > 0")
	}
	return nil
}

type HandleMetrics struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Healthy    bool          `json:"healthy"`
	Age        time.Duration `json:"age"`
	IdleTime   time.Duration `json:"idle_time"`
	UseCount   int64         `json:"use_count"`
	ErrorCount int64         `json:"error_count"`
}

type PoolMetrics struct {
	Status           string          `json:"status"`
	TotalHandles     int             `json:"total_handles"`
	AvailableHandles int             `json:"available_handles"`
	InUseHandles     int             `json:"in_use_handles"`
	QueueDepth       int             `json:"queue_depth"`
	Handles          []HandleMetrics `json:"handles"`
}
