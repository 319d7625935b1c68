package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/envbridge/pkg/engine"
)

// Options configures how workers are launched.
type Options struct {
	Command     []string
	WorkDir     string
	Env         []string
	StopTimeout time.Duration
	Logger      *slog.Logger
	Status      StatusRecorder
	Injector    EnvInjector
}

// Backend opens engines backed by a worker subprocess. The task catalog is the
// one the worker reports in its init reply; the dataset on disk is only walked
// when the worker does not report one.
type Backend struct {
	opts Options
}

// NewBackend returns a backend that launches opts.Command per engine.
func NewBackend(opts Options) *Backend {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Backend{opts: opts}
}

func (b *Backend) Name() string { return "process" }

func (b *Backend) Open(ctx context.Context, cfg *engine.Config, split string) (engine.Env, []string, error) {
	if len(b.opts.Command) == 0 {
		return nil, nil, fmt.Errorf("no worker command configured")
	}

	doc, err := cfg.AsMap()
	if err != nil {
		return nil, nil, err
	}

	pm := NewManager(b.opts.Logger)
	if b.opts.Status != nil {
		pm.SetStatusRecorder(b.opts.Status)
	}
	if b.opts.Injector != nil {
		pm.SetEnvInjector(b.opts.Injector)
	}
	if err := pm.Start(ctx, b.opts.Command, b.opts.WorkDir, b.opts.Env); err != nil {
		return nil, nil, err
	}

	var r reply
	req := request{Op: opInit, Config: doc, Split: split, BatchSize: 1}
	if err := pm.Call(req, &r); err != nil {
		_ = pm.Stop(b.opts.StopTimeout)
		return nil, nil, err
	}
	if err := r.err(opInit); err != nil {
		_ = pm.Stop(b.opts.StopTimeout)
		return nil, nil, err
	}

	tasks := r.GameFiles
	if tasks == nil {
		b.opts.Logger.Debug("Worker reported no catalog, walking dataset", "split", split)
		discovered, err := engine.DiscoverTasks(cfg, split)
		if err != nil {
			_ = pm.Stop(b.opts.StopTimeout)
			return nil, nil, err
		}
		tasks = discovered
	}

	env := newEnv(pm, tasks, b.opts.StopTimeout)
	return engine.Wrap(env, cfg, tasks), tasks, nil
}
