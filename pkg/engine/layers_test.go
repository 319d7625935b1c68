package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scalarEnv returns unbatched results, the way a bare engine does.
type scalarEnv struct {
	GameFiles []string
	resets    int
	steps     int
	closed    bool
	stepErr   error
}

func (e *scalarEnv) Reset(context.Context) (ResetResult, error) {
	e.resets++
	return ResetResult{Obs: "hello", Infos: Infos{InfoAdmissibleCommands: []string{"look"}}}, nil
}

func (e *scalarEnv) Step(_ context.Context, actions []string) (StepResult, error) {
	if e.stepErr != nil {
		return StepResult{}, e.stepErr
	}
	e.steps++
	return StepResult{Obs: "you " + actions[0], Scores: 0.0, Dones: false}, nil
}

func (e *scalarEnv) Close() error {
	e.closed = true
	return nil
}

func TestBatchWrapsScalars(t *testing.T) {
	inner := &scalarEnv{}
	env := NewBatch(inner, []string{"g1", "g2"})
	ctx := context.Background()

	res, err := env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"hello"}, res.Obs)
	assert.Equal(t, []string{"g1"}, res.Infos[InfoGameFile])

	res, err = env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, res.Infos[InfoGameFile], "resets cycle through the task set")

	step, err := env.Step(ctx, []string{"look"})
	require.NoError(t, err)
	assert.Equal(t, []any{"you look"}, step.Obs)
	assert.Equal(t, []any{0.0}, step.Scores)
	assert.Equal(t, []any{false}, step.Dones)
}

func TestBatchRejectsWrongActionCount(t *testing.T) {
	env := NewBatch(&scalarEnv{}, nil)
	_, err := env.Step(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	_, err = env.Step(context.Background(), nil)
	require.Error(t, err)
}

func TestBatchKeepsEngineGameFile(t *testing.T) {
	inner := &fixedInfosEnv{infos: Infos{InfoGameFile: []string{"engine-choice"}}}
	env := NewBatch(inner, []string{"g1"})

	res, err := env.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"engine-choice"}, res.Infos[InfoGameFile])
}

func TestBatchNarrowingRestartsCursor(t *testing.T) {
	env := NewBatch(&scalarEnv{}, []string{"g1", "g2", "g3"})
	ctx := context.Background()

	_, err := env.Reset(ctx)
	require.NoError(t, err)
	require.True(t, env.SetAttr("gameFiles", []string{"g3"}))

	res, err := env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g3"}, res.Infos[InfoGameFile])

	assert.False(t, env.SetAttr("gameFiles", "not a slice"))
	assert.False(t, env.SetAttr("other", []string{"x"}))
}

func TestStepLimitForcesDone(t *testing.T) {
	inner := &scalarEnv{}
	env := NewBatch(NewStepLimit(inner, 2, nil), nil)
	ctx := context.Background()

	_, err := env.Reset(ctx)
	require.NoError(t, err)

	step, err := env.Step(ctx, []string{"look"})
	require.NoError(t, err)
	assert.Equal(t, []any{false}, step.Dones)

	step, err = env.Step(ctx, []string{"look"})
	require.NoError(t, err)
	assert.Equal(t, []any{true}, step.Dones)

	_, err = env.Reset(ctx)
	require.NoError(t, err)
	step, err = env.Step(ctx, []string{"look"})
	require.NoError(t, err)
	assert.Equal(t, []any{false}, step.Dones, "reset clears the step count")
}

func TestStepLimitDisabled(t *testing.T) {
	env := NewStepLimit(&scalarEnv{}, 0, nil)
	for i := 0; i < 100; i++ {
		step, err := env.Step(context.Background(), []string{"look"})
		require.NoError(t, err)
		assert.Equal(t, false, step.Dones)
	}
}

func TestStepLimitPassesErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &scalarEnv{stepErr: boom}
	env := Wrap(inner, DefaultConfig("/data"), nil)

	_, err := env.Step(context.Background(), []string{"look"})
	assert.ErrorIs(t, err, boom)
}

func TestWrapUsesConfiguredBudget(t *testing.T) {
	cfg := DefaultConfig("/data")
	cfg.Dagger.Training.MaxStepsPerEpisode = 1

	env := Wrap(&scalarEnv{}, cfg, []string{"g"})
	step, err := env.Step(context.Background(), []string{"look"})
	require.NoError(t, err)
	assert.Equal(t, []any{true}, step.Dones)
}

func TestCloseReachesInnermost(t *testing.T) {
	inner := &scalarEnv{}
	env := Wrap(inner, nil, nil)
	require.NoError(t, env.Close())
	assert.True(t, inner.closed)
}

func TestAllDone(t *testing.T) {
	assert.Equal(t, true, allDone(nil))
	assert.Equal(t, true, allDone(false))
	assert.Equal(t, []bool{true, true}, allDone([]bool{false, true}))
	assert.Equal(t, []bool{true}, allDone([]any{}))
}

type fixedInfosEnv struct {
	infos Infos
}

func (e *fixedInfosEnv) Reset(context.Context) (ResetResult, error) {
	return ResetResult{Obs: []string{"x"}, Infos: e.infos}, nil
}
func (e *fixedInfosEnv) Step(context.Context, []string) (StepResult, error) { return StepResult{}, nil }
func (e *fixedInfosEnv) Close() error                                       { return nil }
