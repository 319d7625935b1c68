package engine

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// Wrap stacks the standard layers on top of a backend's innermost env:
// Batch outermost, then StepLimit, then inner.
func Wrap(inner Env, cfg *Config, tasks []string) Env {
	maxSteps := 0
	if cfg != nil {
		maxSteps = cfg.Dagger.Training.MaxStepsPerEpisode
	}
	limited := NewStepLimit(inner, maxSteps, tasks)
	return NewBatch(limited, tasks)
}

// Batch drives its inner env with a batch of exactly one game and guarantees
// batched result shapes to callers.
type Batch struct {
	inner     Env
	gameFiles []string
	cursor    int
}

// NewBatch returns a batch-of-one layer over inner.
func NewBatch(inner Env, gameFiles []string) *Batch {
	return &Batch{inner: inner, gameFiles: slices.Clone(gameFiles)}
}

func (b *Batch) Unwrap() Env { return b.inner }

func (b *Batch) SetAttr(name string, value any) bool {
	if name != "gameFiles" {
		return false
	}
	files, ok := value.([]string)
	if !ok {
		return false
	}
	b.gameFiles = files
	b.cursor = 0
	return true
}

// GameFilesView returns the task set cached by this layer.
func (b *Batch) GameFilesView() []string { return slices.Clone(b.gameFiles) }

func (b *Batch) Reset(ctx context.Context) (ResetResult, error) {
	res, err := b.inner.Reset(ctx)
	if err != nil {
		return ResetResult{}, err
	}
	res.Obs = batchOf(res.Obs)
	if res.Infos == nil {
		res.Infos = Infos{}
	}
	if _, ok := res.Infos[InfoGameFile]; !ok && len(b.gameFiles) > 0 {
		res.Infos[InfoGameFile] = []string{b.gameFiles[b.cursor%len(b.gameFiles)]}
	}
	if len(b.gameFiles) > 0 {
		b.cursor = (b.cursor + 1) % len(b.gameFiles)
	}
	return res, nil
}

func (b *Batch) Step(ctx context.Context, actions []string) (StepResult, error) {
	if len(actions) != 1 {
		return StepResult{}, fmt.Errorf("batch size is 1, got %d actions", len(actions))
	}
	res, err := b.inner.Step(ctx, actions)
	if err != nil {
		return StepResult{}, err
	}
	res.Obs = batchOf(res.Obs)
	res.Scores = batchOf(res.Scores)
	res.Dones = batchOf(res.Dones)
	return res, nil
}

func (b *Batch) Close() error { return b.inner.Close() }

// StepLimit ends an episode once it has taken maxSteps actions. A non-positive
// limit disables the check.
type StepLimit struct {
	inner    Env
	maxSteps int
	steps    int
	tasks    []string
}

// NewStepLimit returns a step limiting layer over inner.
func NewStepLimit(inner Env, maxSteps int, gameFiles []string) *StepLimit {
	return &StepLimit{inner: inner, maxSteps: maxSteps, tasks: slices.Clone(gameFiles)}
}

func (s *StepLimit) Unwrap() Env { return s.inner }

func (s *StepLimit) SetAttr(name string, value any) bool {
	if name != "game_files" {
		return false
	}
	files, ok := value.([]string)
	if !ok {
		return false
	}
	s.tasks = files
	return true
}

// GameFilesView returns the task set cached by this layer.
func (s *StepLimit) GameFilesView() []string { return slices.Clone(s.tasks) }

func (s *StepLimit) Reset(ctx context.Context) (ResetResult, error) {
	s.steps = 0
	return s.inner.Reset(ctx)
}

func (s *StepLimit) Step(ctx context.Context, actions []string) (StepResult, error) {
	res, err := s.inner.Step(ctx, actions)
	if err != nil {
		return StepResult{}, err
	}
	s.steps++
	if s.maxSteps > 0 && s.steps >= s.maxSteps {
		res.Dones = allDone(res.Dones)
	}
	return res, nil
}

func (s *StepLimit) Close() error { return s.inner.Close() }

// batchOf wraps a scalar into a one-slot batch and leaves slices alone.
func batchOf(v any) any {
	if v == nil {
		return v
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return v
	}
	return []any{v}
}

// allDone marks every slot of dones as finished, keeping the batch width.
func allDone(dones any) any {
	if dones == nil {
		return true
	}
	v := reflect.ValueOf(dones)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]bool, v.Len())
		for i := range out {
			out[i] = true
		}
		if len(out) == 0 {
			return []bool{true}
		}
		return out
	}
	return true
}
