package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"automation-gateway/middleware/admission/domain"
)

// ExecInvoker executa cada comando em um processo novo do motor externo.
//
// O script vai pelo stdin; Name e Args viram argumentos depois de BaseArgs.
type ExecInvoker struct {
	Path     string
	BaseArgs []string
	// CriticalExitCodes marca códigos de saída que indicam motor inutilizável.
	CriticalExitCodes []int
	// WaitDelay limita a espera pelos pipes depois do cancelamento (0 = 500ms).
	WaitDelay time.Duration
}

const defaultWaitDelay = 500 * time.Millisecond

func (e ExecInvoker) waitDelay() time.Duration {
	if e.WaitDelay > 0 {
		return e.WaitDelay
	}
	return defaultWaitDelay
}

func (e ExecInvoker) Invoke(ctx context.Context, cmd domain.Command) (domain.Result, error) {
	if strings.TrimSpace(e.Path) == "" {
		return domain.Result{}, &domain.CriticalError{Op: "invoke", Err: errors.New("engine path not configured")}
	}

	args := make([]string, 0, len(e.BaseArgs)+len(cmd.Args)+1)
	args = append(args, e.BaseArgs...)
	if cmd.Name != "" {
		args = append(args, cmd.Name)
	}
	args = append(args, cmd.Args...)

	c := exec.CommandContext(ctx, e.Path, args...)
	configureProcess(c)
	c.WaitDelay = e.waitDelay()
	if cmd.Script != "" {
		c.Stdin = strings.NewReader(cmd.Script)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := domain.Result{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.Bytes(),
		Elapsed: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("invoke %s: %w", cmd.Name, ctx.Err())
	}
	// o motor saiu com sucesso, mas um filho segurou os pipes além do WaitDelay
	if errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		for _, code := range e.CriticalExitCodes {
			if code == res.ExitCode {
				return res, &domain.CriticalError{Op: "invoke " + cmd.Name, Err: err}
			}
		}
		return res, fmt.Errorf("invoke %s: exit %d: %s", cmd.Name, res.ExitCode, strings.TrimSpace(stderr.String()))
	}
	// binário ausente, permissão, etc.
	return res, &domain.CriticalError{Op: "invoke " + cmd.Name, Err: err}
}
