package bridge

import (
	"context"

	"github.com/polisai/envbridge/pkg/protocol"
	"github.com/polisai/envbridge/pkg/session"
)

// SessionController executes decoded commands against the session.
// *session.Controller is the production implementation.
type SessionController interface {
	// Init builds a new engine and replaces the session's handle
	Init(ctx context.Context, req session.InitRequest) (*protocol.InitResponse, error)

	// ListTasks returns the catalog from the last successful init
	ListTasks() *protocol.TasksResponse

	// Reset starts an episode, narrowed to gameFile when it is not empty
	Reset(ctx context.Context, gameFile string) (*protocol.ResetResponse, error)

	// Step applies one action, the default action when nil
	Step(ctx context.Context, action *string) (*protocol.StepResponse, error)

	// Shutdown releases the engine and always succeeds
	Shutdown() *protocol.StatusResponse

	// Close releases the engine when the input stream ends
	Close()
}

var _ SessionController = (*session.Controller)(nil)
