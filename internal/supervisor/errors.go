package supervisor

import (
	"errors"
	"fmt"
)

// ErrEmptyCommand is returned when a sidecar spec has no executable.
var ErrEmptyCommand = errors.New("sidecar command is empty")

// SpawnError reports that the OS could not create a sidecar process.
// It is fatal for that sidecar only.
type SpawnError struct {
	Sidecar string
	Command string
	Err     error
}

// Error formats spawn failures for logs and UI.
func (e *SpawnError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("spawn sidecar %s (%s): %v", e.Sidecar, e.Command, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *SpawnError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
