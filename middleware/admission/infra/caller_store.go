package infra

import (
	"context"
	"sync"
	"time"

	"automation-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// CallerStore mantém um token bucket (x/time/rate) por chamador e classe de
// categoria, com limpeza periódica de chaves inativas.
//
// A taxa padrão vale para toda classe sem limite próprio; taxa <= 0 deixa a
// classe sem limite.
type CallerStore struct {
	mu           sync.Mutex
	entries      map[domain.CallerKey]*callerEntry
	def          classRate
	classes      map[domain.Class]classRate
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type classRate struct {
	rps   rate.Limit
	burst int
}

func (c classRate) unlimited() bool { return c.rps <= 0 }

type callerEntry struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type CallerStoreOption func(*CallerStore)

func WithIdleTTL(d time.Duration) CallerStoreOption {
	return func(s *CallerStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) CallerStoreOption {
	return func(s *CallerStore) { s.cleanupEvery = d }
}

// WithClassLimit dá à classe uma taxa própria no lugar da padrão.
func WithClassLimit(class domain.Class, rps float64, burst int) CallerStoreOption {
	return func(s *CallerStore) {
		s.classes[class] = newClassRate(rps, burst)
	}
}

// WithCallerClock troca o relógio (testes).
func WithCallerClock(now func() time.Time) CallerStoreOption {
	return func(s *CallerStore) { s.now = now }
}

func NewCallerStore(rps float64, burst int, opts ...CallerStoreOption) *CallerStore {
	s := &CallerStore{
		entries:      make(map[domain.CallerKey]*callerEntry),
		def:          newClassRate(rps, burst),
		classes:      make(map[domain.Class]classRate),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newClassRate(rps float64, burst int) classRate {
	if burst <= 0 {
		burst = 1
	}
	return classRate{rps: rate.Limit(rps), burst: burst}
}

func (s *CallerStore) rateFor(class domain.Class) classRate {
	if r, ok := s.classes[class]; ok {
		return r
	}
	return s.def
}

// Get implementa domain.LimiterStore. Classe sem limite retorna nil.
func (s *CallerStore) Get(key domain.CallerKey) domain.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rateFor(key.Class)
	if r.unlimited() {
		return nil
	}
	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.bucket
	}

	b := &tokenBucket{lim: rate.NewLimiter(r.rps, r.burst), now: s.now}
	s.entries[key] = &callerEntry{bucket: b, lastSeen: now}
	return b
}

func (s *CallerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *CallerStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *CallerStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// tokenBucket adapta rate.Limiter a domain.Limiter: reserva uma ficha e, se
// ela não estiver disponível agora, devolve a reserva e informa a espera.
type tokenBucket struct {
	lim *rate.Limiter
	now func() time.Time
}

func (b *tokenBucket) Allow() (bool, time.Duration) {
	now := b.now()
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	wait := r.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, wait
}
