package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrPreflightNotPassed is returned by gated calls while the readiness gate is closed.
	ErrPreflightNotPassed = errors.New("preflight checks failed - run diagnostics first")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("backend circuit open")
)

// StatusError reports a non-2xx backend answer.
type StatusError struct {
	Operation  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: unexpected status %d", e.Operation, e.StatusCode)
}
