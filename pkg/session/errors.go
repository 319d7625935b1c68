package session

import (
	"errors"
	"fmt"
)

// ErrNotInitialized indicates a command that needs an engine was issued before
// a successful init.
var ErrNotInitialized = errors.New("Environment not initialized. Call init first.") //nolint:staticcheck // wire message

// Operations reported in OpError.
const (
	OpInit  = "init"
	OpReset = "reset"
	OpStep  = "step"
)

var opPrefixes = map[string]string{
	OpInit:  "Failed to initialize engine",
	OpReset: "Reset failed",
	OpStep:  "Step failed",
}

// OpError wraps an engine failure with the operation that hit it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	prefix, ok := opPrefixes[e.Op]
	if !ok {
		prefix = e.Op + " failed"
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsNotInitialized checks if the error is a missing-init state error.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}
