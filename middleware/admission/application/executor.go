package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"automation-gateway/middleware/admission/domain"
)

// Executor concentra o fluxo completo de um chamador: permissão, admissão,
// aquisição de handle, execução e liberação, sem saber nada sobre HTTP.
type Executor struct {
	Gateway     *Gateway
	Pool        domain.HandlePool
	Permissions domain.PermissionOracle
	// Callers nil desliga o rate limit por chamador.
	Callers *CallerService
	// AcquireTimeout <= 0 usa o padrão do pool.
	AcquireTimeout time.Duration
	Logger         *slog.Logger
}

// Outcome é o resultado de uma execução admitida.
type Outcome struct {
	OperationID string
	HandleID    string
	Result      domain.Result
	Warnings    []string
	// Waited é o tempo gasto esperando um handle.
	Waited time.Duration
}

// Execute roda cmd sob as regras de admissão. A taxa do chamador é checada
// antes de tudo, depois permissão, admissão, handle e execução.
//
// Negação volta como *domain.DeniedError (errors.Is(err, domain.ErrAdmissionDenied)).
func (e Executor) Execute(ctx context.Context, req Request, target string, cmd domain.Command) (Outcome, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if e.Gateway == nil || e.Pool == nil {
		return Outcome{}, errors.New("executor: gateway and pool are required")
	}

	if dec := e.Callers.Decide(ctx, req); !dec.Allowed {
		return Outcome{}, &domain.DeniedError{Decision: dec}
	}

	if e.Permissions != nil {
		if p := e.Permissions.Check(ctx, req.Category, target); p != domain.PermissionGranted {
			return Outcome{}, fmt.Errorf("%w: %s on %q (%s)", domain.ErrPermissionDenied, req.Category, target, p)
		}
	}

	res, dec, err := e.Gateway.Reserve(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if !dec.Allowed {
		return Outcome{}, &domain.DeniedError{Decision: dec}
	}
	defer res.End()

	out := Outcome{OperationID: res.OperationID, Warnings: dec.Warnings}

	start := time.Now()
	h, err := e.Pool.Acquire(ctx, e.AcquireTimeout)
	out.Waited = time.Since(start)
	if err != nil {
		return out, fmt.Errorf("acquire handle for %s: %w", res.OperationID, err)
	}
	defer e.Pool.Release(h)
	out.HandleID = h.ID()

	runCtx, cancel := context.WithTimeout(ctx, res.Timeout)
	defer cancel()

	out.Result, err = h.Run(runCtx, cmd)
	if err != nil {
		if domain.IsCritical(err) {
			logger.Error("critical engine failure", "operation_id", res.OperationID, "handle_id", out.HandleID, "error", err)
		}
		return out, fmt.Errorf("run %s on %s: %w", res.OperationID, out.HandleID, err)
	}

	logger.Debug("operation finished",
		"operation_id", res.OperationID,
		"handle_id", out.HandleID,
		"elapsed", out.Result.Elapsed,
		"waited", out.Waited)
	return out, nil
}
