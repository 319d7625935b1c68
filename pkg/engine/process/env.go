package process

import (
	"context"
	"slices"
	"time"

	"github.com/polisai/envbridge/pkg/engine"
)

// Worker operations.
const (
	opInit  = "init"
	opReset = "reset"
	opStep  = "step"
	opClose = "close"
)

type request struct {
	Op        string         `json:"op"`
	Config    map[string]any `json:"config,omitempty"`
	Split     string         `json:"split,omitempty"`
	GameFiles []string       `json:"game_files,omitempty"`
	BatchSize int            `json:"batch_size,omitempty"`
	Actions   []string       `json:"actions,omitempty"`
}

// reply is the worker's answer. GameFiles is only read from the init reply:
// nil means the worker did not report a catalog, empty means it has none.
type reply struct {
	OK        bool           `json:"ok"`
	Obs       any            `json:"obs"`
	Scores    any            `json:"scores"`
	Dones     any            `json:"dones"`
	Infos     map[string]any `json:"infos"`
	GameFiles []string       `json:"game_files"`
	Error     string         `json:"error"`
	Traceback string         `json:"traceback"`
}

func (r *reply) err(op string) error {
	if r.OK {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "worker reported failure"
	}
	return &engine.WorkerError{Op: op, Message: msg, Traceback: r.Traceback}
}

// caller is the part of Manager that Env needs.
type caller interface {
	Call(req any, reply any) error
	Stop(timeout time.Duration) error
}

// Env is the innermost layer backed by a worker process. GameFiles is sent to
// the worker on every reset, so it decides which game loads next.
type Env struct {
	GameFiles []string

	worker      caller
	stopTimeout time.Duration
	closed      bool
}

func newEnv(worker caller, gameFiles []string, stopTimeout time.Duration) *Env {
	return &Env{
		GameFiles:   slices.Clone(gameFiles),
		worker:      worker,
		stopTimeout: stopTimeout,
	}
}

func (e *Env) Reset(_ context.Context) (engine.ResetResult, error) {
	var r reply
	if err := e.call(request{Op: opReset, GameFiles: e.GameFiles}, &r); err != nil {
		return engine.ResetResult{}, err
	}
	if err := r.err(opReset); err != nil {
		return engine.ResetResult{}, err
	}
	return engine.ResetResult{Obs: r.Obs, Infos: r.Infos}, nil
}

func (e *Env) Step(_ context.Context, actions []string) (engine.StepResult, error) {
	var r reply
	if err := e.call(request{Op: opStep, Actions: actions}, &r); err != nil {
		return engine.StepResult{}, err
	}
	if err := r.err(opStep); err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{Obs: r.Obs, Scores: r.Scores, Dones: r.Dones, Infos: r.Infos}, nil
}

// Close asks the worker to shut down and then stops the process. The close
// request is best effort; a worker that already exited is not an error.
func (e *Env) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var r reply
	_ = e.worker.Call(request{Op: opClose}, &r)
	return e.worker.Stop(e.stopTimeout)
}

func (e *Env) call(req request, r *reply) error {
	if e.closed {
		return engine.ErrWorkerExited
	}
	return e.worker.Call(req, r)
}
