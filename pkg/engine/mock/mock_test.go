package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/envbridge/pkg/engine"
)

func TestBackendOpen(t *testing.T) {
	b := NewBackend()
	assert.Equal(t, "mock", b.Name())

	env, tasks, err := b.Open(context.Background(), engine.DefaultConfig("/data"), engine.DefaultSplit)
	require.NoError(t, err)
	assert.Equal(t, Tasks, tasks)

	layers := engine.Layers(env)
	require.Len(t, layers, 3)
	assert.IsType(t, &Env{}, layers[2])
}

func TestScriptedEpisode(t *testing.T) {
	env, _, err := NewBackend().Open(context.Background(), nil, engine.DefaultSplit)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{InitialObs}, res.Obs)
	assert.Equal(t, [][]string{InitialCommands}, res.Infos[engine.InfoAdmissibleCommands])

	for _, action := range []string{"go to desk 1", "take mug 1 from desk 1", "go to shelf 1"} {
		step, err := env.Step(ctx, []string{action})
		require.NoError(t, err)
		assert.Equal(t, []bool{false}, step.Dones, action)
	}

	step, err := env.Step(ctx, []string{"put mug 1 in/on shelf 1"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, step.Dones)
	assert.Equal(t, []float64{1}, step.Scores)
}

func TestUnknownActionNothingHappens(t *testing.T) {
	env := NewEnv()
	step, err := env.Step(context.Background(), []string{"dance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Nothing happens."}, step.Obs)
	assert.Equal(t, []bool{false}, step.Dones)
	assert.Equal(t, []float64{0}, step.Scores)
}

func TestResetCyclesAndNarrows(t *testing.T) {
	env, _, err := NewBackend().Open(context.Background(), nil, engine.DefaultSplit)
	require.NoError(t, err)
	leaf := engine.Layers(env)[2].(*Env)
	ctx := context.Background()

	for _, want := range Tasks {
		_, err := env.Reset(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, leaf.Current())
	}

	engine.SetTaskFiles(env, []string{Tasks[1]})
	for i := 0; i < 3; i++ {
		res, err := env.Reset(ctx)
		require.NoError(t, err)
		assert.Equal(t, Tasks[1], leaf.Current())
		assert.Equal(t, []string{Tasks[1]}, res.Infos[engine.InfoGameFile])
	}
}

func TestClosedEnv(t *testing.T) {
	env := NewEnv()
	require.NoError(t, env.Close())

	_, err := env.Reset(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = env.Step(context.Background(), []string{"look"})
	assert.ErrorIs(t, err, ErrClosed)
}
