package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão.
//
// Cuidado com cardinalidade: OperationID não deve virar chave de série.
type StatsEvent struct {
	OperationID string
	Category    Category
	Allowed     bool
	Reason      string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// Quem grava trata erro como best-effort (não derruba a operação).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
