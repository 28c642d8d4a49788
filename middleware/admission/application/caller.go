package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"automation-gateway/middleware/admission/domain"
)

const (
	defaultCallerRetryAfter = time.Second
	unknownCaller           = "unknown"
)

// CallerService aplica o rate limit por chamador e classe de categoria antes
// da admissão. A negação é uma Decision comum (ReasonCallerRate) e entra nas
// estatísticas como qualquer outra.
//
// Ele não sabe nada sobre HTTP (headers/status).
type CallerService struct {
	Store domain.LimiterStore
	Stats domain.StatsStore
	// RetryAfter é usado quando o limiter não sabe estimar a espera.
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// Decide consome uma ficha do bucket (req.Caller, classe de req.Category).
func (s *CallerService) Decide(ctx context.Context, req Request) domain.Decision {
	if s == nil || s.Store == nil {
		return domain.Allow()
	}
	caller := strings.TrimSpace(req.Caller)
	if caller == "" {
		caller = unknownCaller
	}
	key := domain.CallerKey{Caller: caller, Class: req.Category.Class()}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Allow()
	}
	ok, wait := lim.Allow()
	if ok {
		return domain.Allow()
	}
	if wait <= 0 {
		wait = s.RetryAfter
		if wait <= 0 {
			wait = defaultCallerRetryAfter
		}
	}

	dec := domain.Decision{
		Violations: []string{fmt.Sprintf("caller %s over rate limit for %s operations", caller, key.Class)},
		Reason:     domain.ReasonCallerRate,
		RetryAfter: wait,
	}
	s.logger().Debug("caller rate limited",
		"caller", caller,
		"class", key.Class,
		"retry_after", wait)
	s.record(ctx, req, dec)
	return dec
}

func (s *CallerService) record(ctx context.Context, req Request, dec domain.Decision) {
	if s.Stats == nil {
		return
	}
	if err := s.Stats.Record(ctx, domain.StatsEvent{
		OperationID: req.OperationID,
		Category:    req.Category,
		Allowed:     false,
		Reason:      dec.Reason,
		At:          time.Now(),
	}); err != nil {
		s.logger().Debug("stats record failed", "error", err)
	}
}

func (s *CallerService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
