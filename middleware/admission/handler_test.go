package admission

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"automation-gateway/middleware/admission/application"
	"automation-gateway/middleware/admission/domain"
	"automation-gateway/middleware/admission/infra"
)

type stubHandle struct{ id string }

func (h stubHandle) ID() string { return h.id }

func (h stubHandle) Run(_ context.Context, cmd domain.Command) (domain.Result, error) {
	return domain.Result{Stdout: []byte("ran " + cmd.Name), Elapsed: 2 * time.Millisecond}, nil
}

type stubPool struct {
	acquireErr error
	released   int
}

func (p *stubPool) Acquire(context.Context, time.Duration) (domain.Handle, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return stubHandle{id: "h-1"}, nil
}

func (p *stubPool) Release(domain.Handle) { p.released++ }

func (p *stubPool) Metrics() domain.PoolMetrics {
	return domain.PoolMetrics{Status: "running", TotalHandles: 1, AvailableHandles: 1}
}

type oracle domain.Permission

func (o oracle) Check(context.Context, domain.Category, string) domain.Permission {
	return domain.Permission(o)
}

func newTestServer(pool *stubPool, perm domain.Permission) (http.Handler, *application.Gateway) {
	stats := infra.NewMemoryStatsStore()
	gw := application.NewGateway(
		application.NewResourceMonitor(domain.DefaultLimits()),
		application.TimeoutPolicy{Defaults: application.DefaultTimeouts()},
		application.NewConcurrencyGate(domain.DefaultConflicts()),
		application.WithStats(stats),
	)
	h := NewHandler(HandlerOptions{
		Executor: application.Executor{Gateway: gw, Pool: pool, Permissions: oracle(perm)},
		Pool:     pool,
		Stats:    stats,
	})
	return h, gw
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://gateway"+path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_ExecuteReturnsOutcome(t *testing.T) {
	pool := &stubPool{}
	h, gw := newTestServer(pool, domain.PermissionGranted)

	w := post(h, "/v1/operations", `{"operation_id":"op-1","category":"file_read","target":"/tmp/a","command":{"name":"cat"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out outcomeBody
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.OperationID != "op-1" || out.HandleID != "h-1" || out.Stdout != "ran cat" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if pool.released != 1 {
		t.Fatalf("expected handle released once, got %d", pool.released)
	}
	if gw.Gate().Len() != 0 {
		t.Fatalf("expected reservation ended, gate has %d", gw.Gate().Len())
	}
}

func TestHandler_ConflictIsTooManyRequestsWithRetryAfter(t *testing.T) {
	h, gw := newTestServer(&stubPool{}, domain.PermissionGranted)

	res, dec, err := gw.Start(context.Background(), "held", domain.CategoryMacroCreate)
	if err != nil || !dec.Allowed {
		t.Fatalf("expected held op admitted, err=%v dec=%+v", err, dec)
	}
	defer res.End()

	w := post(h, "/v1/operations", `{"category":"macro_delete","command":{"name":"rm"}}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After 5, got %q", got)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Decision == nil || body.Decision.Reason != domain.ReasonConflict {
		t.Fatalf("expected conflict decision, got %+v", body.Decision)
	}
}

func TestHandler_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		pool *stubPool
		perm domain.Permission
		body string
		want int
	}{
		{"invalid timeout", &stubPool{}, domain.PermissionGranted,
			`{"category":"file_read","timeout_seconds":0,"command":{"name":"cat"}}`, http.StatusBadRequest},
		{"unknown category", &stubPool{}, domain.PermissionGranted,
			`{"category":"teleport","command":{"name":"x"}}`, http.StatusBadRequest},
		{"malformed body", &stubPool{}, domain.PermissionGranted,
			`{"category":`, http.StatusBadRequest},
		{"missing command", &stubPool{}, domain.PermissionGranted,
			`{"category":"file_read"}`, http.StatusBadRequest},
		{"permission unknown", &stubPool{}, domain.PermissionUnknown,
			`{"category":"file_read","command":{"name":"cat"}}`, http.StatusForbidden},
		{"queue full", &stubPool{acquireErr: domain.ErrQueueFull}, domain.PermissionGranted,
			`{"category":"file_read","command":{"name":"cat"}}`, http.StatusServiceUnavailable},
		{"acquire timeout", &stubPool{acquireErr: domain.ErrAcquireTimeout}, domain.PermissionGranted,
			`{"category":"file_read","command":{"name":"cat"}}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h, _ := newTestServer(tc.pool, tc.perm)
		w := post(h, "/v1/operations", tc.body)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestHandler_ValidateDoesNotReserve(t *testing.T) {
	h, gw := newTestServer(&stubPool{}, domain.PermissionGranted)

	w := post(h, "/v1/validate", `{"category":"script_execute","timeout_seconds":20}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var dec decisionBody
	if err := json.Unmarshal(w.Body.Bytes(), &dec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dec.Allowed || len(dec.Warnings) != 1 {
		t.Fatalf("expected allowed with one timeout warning, got %+v", dec)
	}
	if gw.Gate().Len() != 0 {
		t.Fatalf("validate must not reserve, gate has %d", gw.Gate().Len())
	}
}

func TestHandler_HugeTimeoutHitsCeilingNotSign(t *testing.T) {
	h, _ := newTestServer(&stubPool{}, domain.PermissionGranted)

	for _, secs := range []string{"1e12", "1e300"} {
		w := post(h, "/v1/validate", `{"category":"file_read","timeout_seconds":`+secs+`}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", secs, w.Code, w.Body.String())
		}
		var dec decisionBody
		if err := json.Unmarshal(w.Body.Bytes(), &dec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.Allowed || len(dec.Violations) != 1 || !strings.Contains(dec.Violations[0], "exceeds hard ceiling") {
			t.Fatalf("%s: expected hard ceiling violation, got %+v", secs, dec)
		}
	}
}

func TestSecondsToDuration_Saturates(t *testing.T) {
	if got := secondsToDuration(1.5); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", got)
	}
	if got := secondsToDuration(1e12); got != time.Duration(math.MaxInt64) {
		t.Fatalf("expected saturation, got %s", got)
	}
	if got := secondsToDuration(-1e12); got >= 0 {
		t.Fatalf("expected negative duration, got %s", got)
	}
}

func TestHandler_InflightAndPool(t *testing.T) {
	h, gw := newTestServer(&stubPool{}, domain.PermissionGranted)

	res, _, err := gw.Start(context.Background(), "held", domain.CategoryNetworkRequest)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer res.End()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/v1/inflight", nil))
	var ops []inflightBody
	if err := json.Unmarshal(w.Body.Bytes(), &ops); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ops) != 1 || ops[0].OperationID != "held" || ops[0].Category != "network_request" {
		t.Fatalf("unexpected inflight %+v", ops)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/v1/pool", nil))
	var m domain.PoolMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TotalHandles != 1 || m.Status != "running" {
		t.Fatalf("unexpected pool metrics %+v", m)
	}
}

func TestHandler_StatsCountsDecisions(t *testing.T) {
	h, gw := newTestServer(&stubPool{}, domain.PermissionGranted)

	res, _, err := gw.Start(context.Background(), "held", domain.CategoryMacroCreate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer res.End()
	_ = post(h, "/v1/operations", `{"category":"macro_modify","command":{"name":"edit"}}`)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/v1/stats", nil))
	var c infra.Counters
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Allowed != 1 || c.Denied != 1 {
		t.Fatalf("expected 1 allowed and 1 denied, got %+v", c)
	}
}

func TestHandler_CallerRateLimitByClass(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	gw := application.NewGateway(
		application.NewResourceMonitor(domain.DefaultLimits()),
		application.TimeoutPolicy{Defaults: application.DefaultTimeouts()},
		application.NewConcurrencyGate(domain.DefaultConflicts()),
		application.WithStats(stats),
	)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	callers := infra.NewCallerStore(0.5, 1, infra.WithCallerClock(func() time.Time { return clock }))
	pool := &stubPool{}
	h := NewHandler(HandlerOptions{
		Executor: application.Executor{
			Gateway:     gw,
			Pool:        pool,
			Permissions: oracle(domain.PermissionGranted),
			Callers:     &application.CallerService{Store: callers, Stats: stats},
		},
		Pool:      pool,
		Stats:     stats,
		CallerKey: DefaultKeyFunc("X-Api-Key", false),
	})

	send := func(key, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "http://gateway/v1/operations", strings.NewReader(body))
		r.Header.Set("X-Api-Key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}
	const script = `{"category":"script_execute","command":{"name":"run"}}`
	const read = `{"category":"file_read","command":{"name":"cat"}}`

	if w := send("robot-1", script); w.Code != http.StatusOK {
		t.Fatalf("first script: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := send("robot-1", script)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second script: expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Decision == nil || body.Decision.Reason != domain.ReasonCallerRate {
		t.Fatalf("expected caller_rate decision, got %+v", body.Decision)
	}

	// outra classe e outro chamador têm buckets próprios
	if w := send("robot-1", read); w.Code != http.StatusOK {
		t.Fatalf("file read: expected 200, got %d", w.Code)
	}
	if w := send("robot-2", script); w.Code != http.StatusOK {
		t.Fatalf("other caller: expected 200, got %d", w.Code)
	}

	if got := stats.ByReason()[domain.ReasonCallerRate]; got != 1 {
		t.Fatalf("expected one caller_rate denial in stats, got %d", got)
	}
	if pool.released != 3 {
		t.Fatalf("expected limited request to skip the pool, released=%d", pool.released)
	}
}

func TestRetryAfterSeconds_RoundsUpAndFloorsAtOne(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		5 * time.Second:         "5",
		5500 * time.Millisecond: "6",
	}
	for d, want := range cases {
		if got := retryAfterSeconds(d); got != want {
			t.Fatalf("%s: expected %s, got %s", d, want, got)
		}
	}
}
