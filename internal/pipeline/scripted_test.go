package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

func scriptedTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.TaskTypeInProcess, "commission-pipe", 0,
		domain.CommissionRequest{AmountCents: 1000, Currency: "usd"})
	require.NoError(t, err)
	return task
}

func TestScriptedPipeline_Run(t *testing.T) {
	t.Parallel()

	t.Run("reports every step in order", func(t *testing.T) {
		t.Parallel()

		p := NewScriptedPipeline(
			Step{Stage: "fetching source post", Progress: 10},
			Step{Stage: "generating text", Progress: 35},
			Step{Stage: "creating product", Progress: 90},
		)

		var stages []string
		var progresses []int
		err := p.Run(context.Background(), scriptedTask(t), func(stage string, progress int) error {
			stages = append(stages, stage)
			progresses = append(progresses, progress)
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, []string{
			"fetching source post", "generating text", "creating product",
		}, stages)
		assert.Equal(t, []int{10, 35, 90}, progresses)
	})

	t.Run("aborts when a callback signals cancellation", func(t *testing.T) {
		t.Parallel()

		p := NewScriptedPipeline(
			Step{Stage: "fetching source post", Progress: 10},
			Step{Stage: "generating text", Progress: 35},
		)

		calls := 0
		err := p.Run(context.Background(), scriptedTask(t), func(stage string, progress int) error {
			calls++
			return ErrCancelRequested
		})
		assert.ErrorIs(t, err, ErrCancelRequested)
		assert.Equal(t, 1, calls, "must abort at the first refusal")
	})

	t.Run("stops after a step error", func(t *testing.T) {
		t.Parallel()

		stepErr := errors.New("image model unavailable")
		p := NewScriptedPipeline(
			Step{Stage: "generating image", Progress: 65, Err: stepErr},
			Step{Stage: "creating product", Progress: 90},
		)

		var stages []string
		err := p.Run(context.Background(), scriptedTask(t), func(stage string, progress int) error {
			stages = append(stages, stage)
			return nil
		})
		assert.ErrorIs(t, err, stepErr)
		assert.Equal(t, []string{"generating image"}, stages)
	})

	t.Run("honors context cancellation during a delay", func(t *testing.T) {
		t.Parallel()

		p := NewScriptedPipeline(
			Step{Stage: "fetching source post", Progress: 10, Delay: time.Minute},
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := p.Run(ctx, scriptedTask(t), func(stage string, progress int) error {
			t.Fatal("step must not be reported after cancellation")
			return nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestDefaultSteps(t *testing.T) {
	t.Parallel()

	steps := DefaultSteps(0)
	require.NotEmpty(t, steps)

	last := 0
	for _, step := range steps {
		assert.NotEmpty(t, step.Stage)
		assert.Greater(t, step.Progress, last)
		last = step.Progress
	}
	assert.Equal(t, 100, steps[len(steps)-1].Progress)
}
