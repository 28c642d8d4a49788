package infra

import (
	"context"
	"sync"

	"automation-gateway/middleware/admission/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byCategory map[string]Counters
	byReason   map[string]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byCategory: make(map[string]Counters),
		byReason:   make(map[string]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	cat := ev.Category.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byCategory[cat]
	if ev.Allowed {
		s.total.Allowed++
		c.Allowed++
	} else {
		s.total.Denied++
		c.Denied++
		reason := ev.Reason
		if reason == "" {
			reason = "error"
		}
		s.byReason[reason]++
	}
	s.byCategory[cat] = c
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Totals tem a mesma forma de RedisStatsStore.Totals.
func (s *MemoryStatsStore) Totals(context.Context) (Counters, error) {
	return s.Total(), nil
}

func (s *MemoryStatsStore) ByCategory() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byCategory))
	for k, v := range s.byCategory {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReason() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}
