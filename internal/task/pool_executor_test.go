package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

func newPoolTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeInProcess, "commission-pool", 0,
		domain.CommissionRequest{AmountCents: 1000, Currency: "usd"})
	require.NoError(t, err)
	return task
}

func TestPoolExecutor_Execute(t *testing.T) {
	t.Parallel()

	t.Run("runs pipeline and reports completion", func(t *testing.T) {
		t.Parallel()

		reporter := &fakeReporter{}
		executor := NewPoolExecutor(pipeline.NewScriptedPipeline(
			pipeline.Step{Stage: "generating text", Progress: 35},
		), reporter, testLogger())

		err := executor.Execute(context.Background(), newPoolTask(t))
		require.NoError(t, err)

		assert.Equal(t, 1, reporter.StartedCount())
		completions := reporter.Completions()
		require.Len(t, completions, 1)
		assert.NoError(t, completions[0])
	})

	t.Run("skips a task cancelled before dispatch", func(t *testing.T) {
		t.Parallel()

		reporter := &fakeReporter{startedErr: store.ErrTaskNotClaimable}
		ran := false
		executor := NewPoolExecutor(pipelineFunc(
			func(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) error {
				ran = true
				return nil
			}), reporter, testLogger())

		err := executor.Execute(context.Background(), newPoolTask(t))
		require.NoError(t, err)
		assert.False(t, ran, "pipeline must not run for a non-claimable task")
		assert.Empty(t, reporter.Completions())
	})

	t.Run("surfaces start failures for requeue", func(t *testing.T) {
		t.Parallel()

		reporter := &fakeReporter{startedErr: errors.New("store unavailable")}
		executor := NewPoolExecutor(pipeline.NewScriptedPipeline(), reporter, testLogger())

		err := executor.Execute(context.Background(), newPoolTask(t))
		assert.Error(t, err)
		assert.Empty(t, reporter.Completions())
	})

	t.Run("reports pipeline errors as failure", func(t *testing.T) {
		t.Parallel()

		reporter := &fakeReporter{}
		pipeErr := errors.New("image model unavailable")
		executor := NewPoolExecutor(pipeline.NewScriptedPipeline(
			pipeline.Step{Stage: "generating image", Progress: 65, Err: pipeErr},
		), reporter, testLogger())

		err := executor.Execute(context.Background(), newPoolTask(t))
		require.NoError(t, err)

		completions := reporter.Completions()
		require.Len(t, completions, 1)
		assert.ErrorIs(t, completions[0], pipeErr)
	})

	t.Run("normalizes a pipeline panic into failure", func(t *testing.T) {
		t.Parallel()

		reporter := &fakeReporter{}
		executor := NewPoolExecutor(pipelineFunc(
			func(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) error {
				panic("stage blew up")
			}), reporter, testLogger())

		err := executor.Execute(context.Background(), newPoolTask(t))
		require.NoError(t, err)

		completions := reporter.Completions()
		require.Len(t, completions, 1)
		require.Error(t, completions[0])
		assert.Contains(t, completions[0].Error(), "pipeline panic")
	})
}
