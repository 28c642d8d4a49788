package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAdmissionDenied indica negação esperada (retry com RetryAfter).
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrAcquireTimeout indica pool esgotado até o prazo.
	ErrAcquireTimeout = errors.New("handle acquire timed out")

	// ErrQueueFull indica sobrecarga explícita: fila de espera cheia.
	ErrQueueFull = errors.New("handle wait queue full")

	// ErrInvalidTimeout é erro de programação do chamador (não tente de novo).
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrHandleUnhealthy é interno: o handle é descartado e o pool segue.
	ErrHandleUnhealthy = errors.New("handle unhealthy")

	ErrPoolClosed       = errors.New("pool closed")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRequest   = errors.New("invalid request")
)

// DeniedError carrega a decisão que negou a admissão.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	if len(e.Decision.Violations) > 0 {
		return fmt.Sprintf("admission denied (%s): %s", e.Decision.Reason, e.Decision.Violations[0])
	}
	if len(e.Decision.Warnings) > 0 {
		return fmt.Sprintf("admission denied (%s): %s", e.Decision.Reason, e.Decision.Warnings[len(e.Decision.Warnings)-1])
	}
	return "admission denied (" + e.Decision.Reason + ")"
}

func (e *DeniedError) Unwrap() error { return ErrAdmissionDenied }

// CriticalError sinaliza falha grave do motor externo.
//
// Nunca é engolido pelo pool: sobe até a aplicação que compôs os componentes.
type CriticalError struct {
	Op  string
	Err error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical: %s: %v", e.Op, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// IsCritical informa se err (ou algo que ele embrulha) é CriticalError.
func IsCritical(err error) bool {
	var ce *CriticalError
	return errors.As(err, &ce)
}
