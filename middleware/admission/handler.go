package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"automation-gateway/middleware/admission/application"
	"automation-gateway/middleware/admission/domain"
	"automation-gateway/middleware/admission/infra"
)

const defaultMaxBodyBytes = 1 << 20

// PoolInspector expõe a fotografia do pool para GET /v1/pool.
type PoolInspector interface {
	Metrics() domain.PoolMetrics
}

// StatsReporter expõe os contadores de decisões para GET /v1/stats.
type StatsReporter interface {
	Totals(ctx context.Context) (infra.Counters, error)
}

// HandlerOptions liga as rotas HTTP aos casos de uso.
type HandlerOptions struct {
	Executor application.Executor
	Gateway  *application.Gateway
	Pool     PoolInspector
	Stats    StatsReporter
	// CallerKey identifica o chamador de POST /v1/operations (nil usa
	// DefaultKeyFunc sem header e sem X-Forwarded-For).
	CallerKey    KeyFunc
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type handler struct {
	opts   HandlerOptions
	logger *slog.Logger
}

// NewHandler monta as rotas:
//
//	POST /v1/operations  executa um comando sob admissão
//	POST /v1/validate    só consulta a decisão, sem reservar nada
//	GET  /v1/pool        métricas do pool de handles
//	GET  /v1/inflight    operações em andamento
//	GET  /v1/stats       contadores de decisões (se houver StatsReporter)
func NewHandler(opts HandlerOptions) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Gateway == nil {
		opts.Gateway = opts.Executor.Gateway
	}
	if opts.CallerKey == nil {
		opts.CallerKey = DefaultKeyFunc("", false)
	}
	h := &handler{opts: opts, logger: opts.Logger}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/operations", h.execute)
	mux.HandleFunc("POST /v1/validate", h.validate)
	mux.HandleFunc("GET /v1/pool", h.pool)
	mux.HandleFunc("GET /v1/inflight", h.inflight)
	mux.HandleFunc("GET /v1/stats", h.stats)
	return mux
}

type commandBody struct {
	Name   string   `json:"name"`
	Args   []string `json:"args,omitempty"`
	Script string   `json:"script,omitempty"`
}

type operationBody struct {
	OperationID    string             `json:"operation_id"`
	Category       string             `json:"category"`
	Resources      map[string]float64 `json:"resources,omitempty"`
	TimeoutSeconds *float64           `json:"timeout_seconds,omitempty"`
	Target         string             `json:"target,omitempty"`
	Command        commandBody        `json:"command"`
}

type decisionBody struct {
	Allowed           bool     `json:"allowed"`
	Reason            string   `json:"reason,omitempty"`
	Violations        []string `json:"violations,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	RetryAfterSeconds float64  `json:"retry_after_seconds,omitempty"`
}

type outcomeBody struct {
	OperationID string   `json:"operation_id"`
	HandleID    string   `json:"handle_id,omitempty"`
	ExitCode    int      `json:"exit_code"`
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr,omitempty"`
	ElapsedMS   int64    `json:"elapsed_ms"`
	WaitedMS    int64    `json:"waited_ms"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type errorBody struct {
	Error    string        `json:"error"`
	Decision *decisionBody `json:"decision,omitempty"`
}

type inflightBody struct {
	OperationID string  `json:"operation_id"`
	Category    string  `json:"category"`
	AgeSeconds  float64 `json:"age_seconds"`
}

func toDecisionBody(d domain.Decision) *decisionBody {
	return &decisionBody{
		Allowed:           d.Allowed,
		Reason:            d.Reason,
		Violations:        d.Violations,
		Warnings:          d.Warnings,
		RetryAfterSeconds: d.SuggestedWaitSeconds(),
	}
}

func toOutcomeBody(o application.Outcome) outcomeBody {
	return outcomeBody{
		OperationID: o.OperationID,
		HandleID:    o.HandleID,
		ExitCode:    o.Result.ExitCode,
		Stdout:      string(o.Result.Stdout),
		Stderr:      string(o.Result.Stderr),
		ElapsedMS:   o.Result.Elapsed.Milliseconds(),
		WaitedMS:    o.Waited.Milliseconds(),
		Warnings:    o.Warnings,
	}
}

// decode lê o corpo e converte para Request do domínio.
func (h *handler) decode(w http.ResponseWriter, r *http.Request) (operationBody, application.Request, error) {
	var body operationBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return body, application.Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	cat, err := domain.ParseCategory(body.Category)
	if err != nil {
		return body, application.Request{}, err
	}

	req := application.Request{
		OperationID: strings.TrimSpace(body.OperationID),
		Category:    cat,
	}
	if len(body.Resources) > 0 {
		req.Resources = make(map[domain.Resource]float64, len(body.Resources))
		for name, v := range body.Resources {
			res, err := domain.ParseResource(name)
			if err != nil {
				return body, application.Request{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
			}
			req.Resources[res] = v
		}
	}
	if body.TimeoutSeconds != nil {
		d := secondsToDuration(*body.TimeoutSeconds)
		req.Timeout = &d
	}
	return body, req, nil
}

// maxDurationSeconds é o maior valor em segundos que cabe em time.Duration.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// secondsToDuration satura em vez de estourar, para que valores enormes
// cheguem ao teto da política e não virem negativos.
func secondsToDuration(s float64) time.Duration {
	switch {
	case s >= maxDurationSeconds:
		return time.Duration(math.MaxInt64)
	case s <= -maxDurationSeconds:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(s * float64(time.Second))
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	body, req, err := h.decode(w, r)
	if err != nil {
		h.writeError(w, err, application.Outcome{})
		return
	}
	if strings.TrimSpace(body.Command.Name) == "" && body.Command.Script == "" {
		h.writeError(w, fmt.Errorf("%w: command name or script is required", domain.ErrInvalidRequest), application.Outcome{})
		return
	}

	req.Caller = h.opts.CallerKey(r)
	cmd := domain.Command{Name: body.Command.Name, Args: body.Command.Args, Script: body.Command.Script}
	out, err := h.opts.Executor.Execute(r.Context(), req, body.Target, cmd)
	if err != nil {
		h.writeError(w, err, out)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeBody(out))
}

func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	_, req, err := h.decode(w, r)
	if err != nil {
		h.writeError(w, err, application.Outcome{})
		return
	}
	dec, err := h.opts.Gateway.Validate(req)
	if err != nil {
		writeJSON(w, statusFor(err, false), errorBody{Error: err.Error(), Decision: toDecisionBody(dec)})
		return
	}
	// consulta: a negação é resposta normal, não erro HTTP
	writeJSON(w, http.StatusOK, toDecisionBody(dec))
}

func (h *handler) pool(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Pool == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Pool.Metrics())
}

func (h *handler) inflight(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	recs := h.opts.Gateway.Gate().InFlight()
	out := make([]inflightBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, inflightBody{
			OperationID: rec.OperationID,
			Category:    rec.Category.String(),
			AgeSeconds:  now.Sub(rec.StartedAt).Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Stats == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	c, err := h.opts.Stats.Totals(r.Context())
	if err != nil {
		h.logger.Warn("stats read failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// writeError traduz erros da aplicação para status HTTP.
func (h *handler) writeError(w http.ResponseWriter, err error, out application.Outcome) {
	var denied *domain.DeniedError
	if errors.As(err, &denied) {
		w.Header().Set("Retry-After", retryAfterSeconds(denied.Decision.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error(), Decision: toDecisionBody(denied.Decision)})
		return
	}

	ran := out.HandleID != ""
	status := statusFor(err, ran)
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("operation failed", "operation_id", out.OperationID, "status", status, "error", err)
	default:
		h.logger.Debug("operation rejected", "operation_id", out.OperationID, "status", status, "error", err)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if ran {
		body := toOutcomeBody(out)
		body.Error = err.Error()
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor mapeia o tipo de erro para o status; ran indica que o comando
// chegou a executar em um handle.
func statusFor(err error, ran bool) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTimeout),
		errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrQueueFull),
		errors.Is(err, domain.ErrAcquireTimeout),
		errors.Is(err, domain.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case domain.IsCritical(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case ran:
		// o comando rodou e falhou: resposta do motor, não do gateway
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
