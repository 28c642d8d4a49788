package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"automation-gateway/middleware/admission/domain"
)

type fakeLimiter struct {
	allow bool
	wait  time.Duration
	calls int
}

func (f *fakeLimiter) Allow() (bool, time.Duration) {
	f.calls++
	return f.allow, f.wait
}

// fakeStore guarda as chaves pedidas para conferir caller e classe.
type fakeStore struct {
	lim  domain.Limiter
	keys []domain.CallerKey
}

func (s *fakeStore) Get(k domain.CallerKey) domain.Limiter {
	s.keys = append(s.keys, k)
	return s.lim
}

func TestCallerService_NilOrEmptyAllows(t *testing.T) {
	var nilSvc *CallerService
	if dec := nilSvc.Decide(context.Background(), Request{Category: domain.CategoryFileRead}); !dec.Allowed {
		t.Fatalf("expected nil service to allow, got %+v", dec)
	}
	if dec := (&CallerService{}).Decide(context.Background(), Request{Category: domain.CategoryFileRead}); !dec.Allowed {
		t.Fatalf("expected service without store to allow, got %+v", dec)
	}
	// limiter nil = classe sem limite
	svc := &CallerService{Store: &fakeStore{}}
	if dec := svc.Decide(context.Background(), Request{Category: domain.CategoryFileRead}); !dec.Allowed {
		t.Fatalf("expected unlimited class to allow, got %+v", dec)
	}
}

func TestCallerService_KeysByCallerAndClass(t *testing.T) {
	store := &fakeStore{lim: &fakeLimiter{allow: true}}
	svc := &CallerService{Store: store}

	svc.Decide(context.Background(), Request{Caller: "robot-7", Category: domain.CategoryScriptExecute})
	svc.Decide(context.Background(), Request{Category: domain.CategoryMacroCreate})

	want := []domain.CallerKey{
		{Caller: "robot-7", Class: domain.ClassScript},
		{Caller: "unknown", Class: domain.ClassMacro},
	}
	if len(store.keys) != len(want) {
		t.Fatalf("expected %d lookups, got %d", len(want), len(store.keys))
	}
	for i, k := range want {
		if store.keys[i] != k {
			t.Fatalf("lookup %d: expected %v, got %v", i, k, store.keys[i])
		}
	}
}

func TestCallerService_DenialRecordsCallerRateStat(t *testing.T) {
	stats := &memStats{}
	svc := &CallerService{
		Store: &fakeStore{lim: &fakeLimiter{allow: false, wait: 1500 * time.Millisecond}},
		Stats: stats,
	}

	dec := svc.Decide(context.Background(), Request{OperationID: "op1", Caller: "robot-7", Category: domain.CategoryNetworkRequest})
	if dec.Allowed || dec.Reason != domain.ReasonCallerRate {
		t.Fatalf("expected caller_rate denial, got %+v", dec)
	}
	if dec.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("expected limiter wait as RetryAfter, got %s", dec.RetryAfter)
	}
	if len(stats.events) != 1 {
		t.Fatalf("expected one stats event, got %d", len(stats.events))
	}
	ev := stats.events[0]
	if ev.Allowed || ev.Reason != domain.ReasonCallerRate || ev.Category != domain.CategoryNetworkRequest || ev.OperationID != "op1" {
		t.Fatalf("unexpected stats event %+v", ev)
	}
}

func TestCallerService_AllowDoesNotRecord(t *testing.T) {
	stats := &memStats{}
	svc := &CallerService{Store: &fakeStore{lim: &fakeLimiter{allow: true}}, Stats: stats}

	if dec := svc.Decide(context.Background(), Request{Category: domain.CategoryFileRead}); !dec.Allowed {
		t.Fatalf("expected allowed, got %+v", dec)
	}
	if len(stats.events) != 0 {
		t.Fatalf("expected admission to record allowed decisions, not the caller check; got %d events", len(stats.events))
	}
}

func TestCallerService_RetryAfterFallbacks(t *testing.T) {
	svc := &CallerService{Store: &fakeStore{lim: &fakeLimiter{allow: false}}}
	if dec := svc.Decide(context.Background(), Request{Category: domain.CategoryFileRead}); dec.RetryAfter != time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}

	svc.RetryAfter = 3 * time.Second
	if dec := svc.Decide(context.Background(), Request{Category: domain.CategoryFileRead}); dec.RetryAfter != 3*time.Second {
		t.Fatalf("expected configured RetryAfter=3s, got %s", dec.RetryAfter)
	}
}

func TestExecutor_CallerLimitDeniesBeforeAdmission(t *testing.T) {
	g := newTestGateway(domain.DefaultLimits(), domain.DefaultConflicts())
	pool := &fakePool{h: &fakeHandle{id: "h-1"}}
	lim := &fakeLimiter{allow: false, wait: 2 * time.Second}
	ex := Executor{
		Gateway:     g,
		Pool:        pool,
		Permissions: fixedOracle(domain.PermissionGranted),
		Callers:     &CallerService{Store: &fakeStore{lim: lim}},
	}

	_, err := ex.Execute(context.Background(),
		Request{OperationID: "op1", Caller: "robot-7", Category: domain.CategoryFileRead},
		"", domain.Command{Name: "cat"})

	var denied *domain.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Decision.Reason != domain.ReasonCallerRate || denied.Decision.RetryAfter != 2*time.Second {
		t.Fatalf("unexpected decision %+v", denied.Decision)
	}
	if pool.acquired != 0 || g.Gate().Len() != 0 {
		t.Fatalf("caller denial must not reserve or acquire (acquired=%d gate=%d)", pool.acquired, g.Gate().Len())
	}
}
