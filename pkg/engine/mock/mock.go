// Package mock provides a deterministic engine for exercising the bridge
// without the real simulator installed.
//
// The catalog holds three tasks. Every reset produces the same room, and steps
// follow a fixed script keyed by the exact action text; any other action gets
// the default "Nothing happens." transition.
package mock

import (
	"context"
	"errors"
	"slices"

	"github.com/polisai/envbridge/pkg/engine"
)

// Tasks is the fixed task catalog.
var Tasks = []string{
	"path/to/task1.tw-pddl",
	"path/to/task2.tw-pddl",
	"path/to/task3.tw-pddl",
}

// InitialObs is the observation produced by every reset.
const InitialObs = "You are in the middle of a room. Looking quickly around you, " +
	"you see a desk 1, a shelf 1, and a drawer 1.\n" +
	"Your task is to put a mug in shelf."

// InitialCommands are the legal actions right after a reset.
var InitialCommands = []string{
	"go to desk 1",
	"go to shelf 1",
	"go to drawer 1",
	"look",
	"inventory",
}

// Transition is one scripted step outcome.
type Transition struct {
	Obs      string
	Commands []string
	Done     bool
	Score    float64
}

// Script maps exact action text to its outcome.
var Script = map[string]Transition{
	"go to desk 1": {
		Obs: "On the desk 1, you see a mug 1 and a pen 1.",
		Commands: []string{
			"take mug 1 from desk 1",
			"take pen 1 from desk 1",
			"go to shelf 1",
			"go to drawer 1",
		},
	},
	"take mug 1 from desk 1": {
		Obs: "You pick up the mug 1 from the desk 1.",
		Commands: []string{
			"go to shelf 1",
			"go to drawer 1",
			"go to desk 1",
			"put mug 1 in/on shelf 1",
			"put mug 1 in/on drawer 1",
		},
	},
	"go to shelf 1": {
		Obs: "You arrive at shelf 1. On the shelf 1, you see nothing.",
		Commands: []string{
			"put mug 1 in/on shelf 1",
			"go to desk 1",
			"go to drawer 1",
		},
	},
	"put mug 1 in/on shelf 1": {
		Obs:      "You put the mug 1 in/on the shelf 1.",
		Commands: []string{},
		Done:     true,
		Score:    1,
	},
}

// DefaultTransition answers any action missing from Script.
var DefaultTransition = Transition{
	Obs:      "Nothing happens.",
	Commands: slices.Clone(InitialCommands),
}

// ErrClosed is returned by an Env used after Close.
var ErrClosed = errors.New("mock env closed")

// Env is the innermost mock layer. GameFiles is the active task set; resets
// cycle through it in order.
type Env struct {
	GameFiles []string

	current string
	next    int
	closed  bool
}

// NewEnv returns an env serving the whole catalog.
func NewEnv() *Env {
	return &Env{GameFiles: slices.Clone(Tasks)}
}

// Current returns the game file loaded by the last reset.
func (e *Env) Current() string { return e.current }

func (e *Env) Reset(_ context.Context) (engine.ResetResult, error) {
	if e.closed {
		return engine.ResetResult{}, ErrClosed
	}
	if len(e.GameFiles) > 0 {
		e.current = e.GameFiles[e.next%len(e.GameFiles)]
		e.next = (e.next + 1) % len(e.GameFiles)
	}
	return engine.ResetResult{
		Obs: []string{InitialObs},
		Infos: engine.Infos{
			engine.InfoAdmissibleCommands: [][]string{slices.Clone(InitialCommands)},
			engine.InfoGameFile:           []string{e.current},
		},
	}, nil
}

func (e *Env) Step(_ context.Context, actions []string) (engine.StepResult, error) {
	if e.closed {
		return engine.StepResult{}, ErrClosed
	}
	var action string
	if len(actions) > 0 {
		action = actions[0]
	}
	t, ok := Script[action]
	if !ok {
		t = DefaultTransition
	}
	return engine.StepResult{
		Obs:    []string{t.Obs},
		Scores: []float64{t.Score},
		Dones:  []bool{t.Done},
		Infos: engine.Infos{
			engine.InfoAdmissibleCommands: [][]string{slices.Clone(t.Commands)},
		},
	}, nil
}

func (e *Env) Close() error {
	e.closed = true
	return nil
}

// Backend opens mock engines. The configuration is accepted but not read.
type Backend struct{}

// NewBackend returns the mock backend.
func NewBackend() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "mock" }

func (b *Backend) Open(_ context.Context, cfg *engine.Config, _ string) (engine.Env, []string, error) {
	tasks := slices.Clone(Tasks)
	return engine.Wrap(NewEnv(), cfg, tasks), tasks, nil
}
