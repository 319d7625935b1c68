package engine

import (
	"errors"
	"fmt"
)

// ErrWorkerExited indicates the engine worker is no longer reachable.
var ErrWorkerExited = errors.New("engine worker exited")

// WorkerError is a failure reported by the engine itself. Traceback holds the
// engine-side diagnostic, if any.
type WorkerError struct {
	Op        string
	Message   string
	Traceback string
}

func (e *WorkerError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Trace returns the engine-side traceback.
func (e *WorkerError) Trace() string {
	return e.Traceback
}

// IsWorkerError reports whether err was raised by the engine.
func IsWorkerError(err error) bool {
	var we *WorkerError
	return errors.As(err, &we)
}
