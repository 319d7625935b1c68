// Package engine describes the simulated environment that the bridge drives.
//
// An engine is reached through Env, usually a chain of layers where each layer
// delegates to an inner one. Results follow the engine's batch convention:
// observations, scores and done flags may arrive as scalars or as slices with
// one slot per parallel game. The bridge only ever drives a single game, so
// callers normalize everything to slot 0.
package engine

import (
	"context"
)

// InfoAdmissibleCommands is the infos key holding the legal actions per batch slot.
const InfoAdmissibleCommands = "admissible_commands"

// InfoGameFile is the infos key holding the game file loaded per batch slot.
const InfoGameFile = "extra.gamefile"

// Infos carries auxiliary per-step data keyed by name. Values are batched.
type Infos map[string]any

// ResetResult is the raw outcome of starting an episode.
type ResetResult struct {
	Obs   any
	Infos Infos
}

// StepResult is the raw outcome of advancing an episode by one action per slot.
type StepResult struct {
	Obs    any
	Scores any
	Dones  any
	Infos  Infos
}

// Env is one layer of an initialized engine.
type Env interface {
	// Reset starts a new episode on the next game of the active task set.
	Reset(ctx context.Context) (ResetResult, error)

	// Step applies one action per batch slot.
	Step(ctx context.Context, actions []string) (StepResult, error)

	// Close releases the engine and anything it owns.
	Close() error
}

// Wrapper is implemented by layers that delegate to an inner Env.
// Unwrap returns nil at the innermost layer.
type Wrapper interface {
	Unwrap() Env
}

// AttrSetter is implemented by layers that hold named attributes which are not
// reachable as exported struct fields. SetAttr reports whether the layer has
// an attribute with that name and accepted the value.
type AttrSetter interface {
	SetAttr(name string, value any) bool
}

// Backend constructs engines.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Open builds a batch-of-one engine for split and returns it together with
	// the ordered task catalog it serves.
	Open(ctx context.Context, cfg *Config, split string) (Env, []string, error)
}
