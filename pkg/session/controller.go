// Package session owns the bridge's process-wide engine session and turns
// protocol commands into engine calls.
//
// A Controller is not safe for concurrent use. The bridge drives it from a
// single goroutine, one command at a time.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/envbridge/pkg/engine"
	"github.com/polisai/envbridge/pkg/protocol"
)

// DefaultAction is stepped when a step command carries no action.
const DefaultAction = "look"

// Session is the mutable state shared across commands.
type Session struct {
	// ID identifies the engine instance created by the last successful init.
	ID string
	// Env is the engine handle, nil until init succeeds.
	Env engine.Env
	// Tasks is the catalog reported by the engine at init.
	Tasks []string
	// ActiveTask is the task loaded by the last reset, empty if none.
	ActiveTask string
	// Split is the dataset split the engine serves.
	Split     string
	StartedAt time.Time
}

// InitRequest carries the optional init fields. Empty strings mean absent.
type InitRequest struct {
	ConfigPath string
	Split      string
	DataRoot   string
}

// Controller mediates every interaction with the engine.
type Controller struct {
	backend  engine.Backend
	logger   *slog.Logger
	dataRoot string
	split    string
	session  Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDataRoot sets the dataset root used when init does not name one.
func WithDataRoot(root string) Option {
	return func(c *Controller) { c.dataRoot = root }
}

// WithSplit sets the split used when init does not name one.
func WithSplit(split string) Option {
	return func(c *Controller) { c.split = split }
}

// NewController creates a controller with an empty session.
func NewController(backend engine.Backend, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		logger:  slog.Default(),
		split:   engine.DefaultSplit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a copy of the current session state.
func (c *Controller) Session() Session {
	s := c.session
	s.Tasks = slices.Clone(s.Tasks)
	return s
}

// Initialized reports whether an engine handle is held.
func (c *Controller) Initialized() bool {
	return c.session.Env != nil
}

// Init builds a new engine and makes it the session's handle.
//
// The new engine is opened before the previous one is released, so a failed
// init leaves the existing session untouched. On success the previous engine
// is closed before its reference is dropped.
func (c *Controller) Init(ctx context.Context, req InitRequest) (*protocol.InitResponse, error) {
	split := firstNonEmpty(req.Split, c.split, engine.DefaultSplit)
	if !engine.ValidSplit(split) {
		return nil, &OpError{Op: OpInit, Err: fmt.Errorf("%w: %q", engine.ErrInvalidSplit, split)}
	}
	dataRoot := firstNonEmpty(req.DataRoot, c.dataRoot)
	if dataRoot == "" {
		dataRoot = engine.DefaultDataRoot()
	}

	var cfg *engine.Config
	if req.ConfigPath != "" {
		loaded, err := engine.LoadConfig(req.ConfigPath, dataRoot)
		if err != nil {
			return nil, &OpError{Op: OpInit, Err: err}
		}
		cfg = loaded
	} else {
		cfg = engine.DefaultConfig(dataRoot)
	}

	env, tasks, err := c.backend.Open(ctx, cfg, split)
	if err != nil {
		return nil, &OpError{Op: OpInit, Err: err}
	}

	c.release("reinit")

	c.session = Session{
		ID:        uuid.NewString(),
		Env:       env,
		Tasks:     slices.Clone(tasks),
		Split:     split,
		StartedAt: time.Now(),
	}

	c.logger.Info("Engine initialized",
		"session_id", c.session.ID,
		"backend", c.backend.Name(),
		"split", split,
		"data_root", dataRoot,
		"config_path", req.ConfigPath,
		"task_count", len(tasks),
		"layers", engine.LayerNames(env),
	)

	return protocol.Initialized(len(tasks)), nil
}

// ListTasks returns the catalog from the last successful init, or an empty
// list. It never touches the engine.
func (c *Controller) ListTasks() *protocol.TasksResponse {
	tasks := slices.Clone(c.session.Tasks)
	if tasks == nil {
		tasks = []string{}
	}
	return &protocol.TasksResponse{Tasks: tasks}
}

// Reset starts a new episode. When gameFile is set the whole engine chain is
// narrowed to that single task first.
func (c *Controller) Reset(ctx context.Context, gameFile string) (*protocol.ResetResponse, error) {
	env := c.session.Env
	if env == nil {
		return nil, ErrNotInitialized
	}

	if gameFile != "" {
		n := engine.SetTaskFiles(env, []string{gameFile})
		c.logger.Debug("Narrowed task set", "session_id", c.session.ID, "game_file", gameFile, "attributes", n)
	}

	res, err := env.Reset(ctx)
	if err != nil {
		return nil, &OpError{Op: OpReset, Err: err}
	}

	obs := firstText(res.Obs)
	active := gameFile
	if active == "" {
		active = firstGameFile(res.Infos)
	}
	c.session.ActiveTask = active

	c.logger.Debug("Episode reset", "session_id", c.session.ID, "task", active)

	return &protocol.ResetResponse{
		Obs:                obs,
		AdmissibleCommands: firstCommands(res.Infos),
		Goal:               goalOf(obs),
		Done:               false,
		Score:              0,
	}, nil
}

// Step applies one action, DefaultAction if action is nil.
func (c *Controller) Step(ctx context.Context, action *string) (*protocol.StepResponse, error) {
	env := c.session.Env
	if env == nil {
		return nil, ErrNotInitialized
	}

	act := DefaultAction
	if action != nil {
		act = *action
	}

	res, err := env.Step(ctx, []string{act})
	if err != nil {
		return nil, &OpError{Op: OpStep, Err: err}
	}

	done, err := firstBool(res.Dones)
	if err != nil {
		return nil, &OpError{Op: OpStep, Err: err}
	}
	score, err := firstFloat(res.Scores)
	if err != nil {
		return nil, &OpError{Op: OpStep, Err: err}
	}

	return &protocol.StepResponse{
		Obs:                firstText(res.Obs),
		AdmissibleCommands: firstCommands(res.Infos),
		Done:               done,
		Score:              score,
	}, nil
}

// Shutdown releases the engine, ignoring release failures.
func (c *Controller) Shutdown() *protocol.StatusResponse {
	c.release("shutdown")
	return protocol.OK()
}

// Close releases the engine without producing a response. It is used when
// the input stream ends.
func (c *Controller) Close() {
	c.release("eof")
}

// release closes the current engine and empties the session.
func (c *Controller) release(reason string) {
	env := c.session.Env
	if env == nil {
		return
	}
	if err := closeEnv(env); err != nil {
		c.logger.Warn("Engine close failed", "session_id", c.session.ID, "reason", reason, "error", err)
	}
	c.logger.Info("Engine released",
		"session_id", c.session.ID,
		"reason", reason,
		"duration", time.Since(c.session.StartedAt),
	)
	c.session = Session{}
}

func closeEnv(env engine.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return env.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
