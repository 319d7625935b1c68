package bridge

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// Sentinel errors for the line protocol
var (
	// ErrUnknownCommand indicates a request whose cmd is missing or not dispatched
	ErrUnknownCommand = errors.New("unknown command")

	// ErrOutputClosed indicates the response stream can no longer be written
	ErrOutputClosed = errors.New("output stream closed")

	// ErrCommandPanicked indicates a command handler panicked
	ErrCommandPanicked = errors.New("command panicked")
)

// UnknownCommandError represents an unknown command with the kind that was sent
type UnknownCommandError struct {
	Kind string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("Unknown command: %s", e.Kind)
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// PanicError represents a recovered panic with the stack of the goroutine
type PanicError struct {
	Command string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s failed: panic: %v", e.Command, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrCommandPanicked
}

// Trace returns the stack captured at recovery
func (e *PanicError) Trace() string {
	return string(e.Stack)
}

// IsUnknownCommand checks if the error indicates an unknown command
func IsUnknownCommand(err error) bool {
	return errors.Is(err, ErrUnknownCommand)
}

// IsBrokenPipe reports whether an error is a broken pipe / closed pipe.
// The controller closing its end early surfaces this way.
func IsBrokenPipe(err error) bool {
	return err != nil && (errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe))
}
