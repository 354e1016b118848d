package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
)

// managerFixture bundles a manager over the in-memory store with the
// in-process executor running the given pipeline.
type managerFixture struct {
	store   *MemoryTaskStore
	bus     *InMemoryBus
	refund  *countingRefundSignaler
	manager *Manager
}

func newManagerFixture(t *testing.T, p pipeline.Pipeline, config ManagerConfig) *managerFixture {
	t.Helper()

	logger := testLogger()
	store := NewMemoryTaskStore()
	bus := NewInMemoryBus(logger)
	refund := &countingRefundSignaler{}
	reporter := NewProgressReporter(store, bus, refund, logger)

	executors := map[domain.TaskType]Executor{
		domain.TaskTypeInProcess: NewPoolExecutor(p, reporter, logger),
	}

	return &managerFixture{
		store:   store,
		bus:     bus,
		refund:  refund,
		manager: NewManager(store, bus, reporter, executors, config, logger),
	}
}

func quickConfig() ManagerConfig {
	return ManagerConfig{
		WorkerCount:       1,
		QueuePollInterval: 10 * time.Millisecond,
		// Liveness is exercised separately; keep the monitor quiet here.
		LivenessTimeout:       time.Hour,
		LivenessCheckInterval: time.Hour,
	}
}

func admitRequest(ref string) AdmitRequest {
	return AdmitRequest{
		CommissionRef: ref,
		Type:          domain.TaskTypeInProcess,
		Priority:      0,
		Commission: domain.CommissionRequest{
			AmountCents: 2500,
			Currency:    "usd",
			Subreddit:   "golang",
		},
	}
}

// waitForStatus polls the store until the task reaches the wanted
// status, returning the final snapshot.
func waitForStatus(
	t *testing.T,
	store *MemoryTaskStore,
	id uuid.UUID,
	want domain.TaskStatus,
) *domain.Task {
	t.Helper()

	var last *domain.Task
	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		last = task
		return task.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return last
}

func TestManagerAdmit(t *testing.T) {
	t.Parallel()

	t.Run("rejects unknown task type", func(t *testing.T) {
		t.Parallel()

		f := newManagerFixture(t, pipeline.NewScriptedPipeline(), quickConfig())
		req := admitRequest("commission-bad-type")
		req.Type = domain.TaskType("batch")

		_, _, err := f.manager.Admit(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidTaskType)
	})

	t.Run("rejects type without a registered executor", func(t *testing.T) {
		t.Parallel()

		f := newManagerFixture(t, pipeline.NewScriptedPipeline(), quickConfig())
		req := admitRequest("commission-no-executor")
		req.Type = domain.TaskTypeIsolatedJob

		_, _, err := f.manager.Admit(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidTaskType)
	})

	t.Run("is idempotent per commission reference", func(t *testing.T) {
		t.Parallel()

		// The manager is never started, so the task stays pending and
		// active across both admissions.
		f := newManagerFixture(t, pipeline.NewScriptedPipeline(), quickConfig())
		ctx := context.Background()

		first, created, err := f.manager.Admit(ctx, admitRequest("commission-idem"))
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := f.manager.Admit(ctx, admitRequest("commission-idem"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		tasks, err := f.manager.List(ctx, false)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
	})

	t.Run("publishes task_created", func(t *testing.T) {
		t.Parallel()

		f := newManagerFixture(t, pipeline.NewScriptedPipeline(), quickConfig())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events, err := f.bus.Subscribe(ctx)
		require.NoError(t, err)

		admitted, created, err := f.manager.Admit(ctx, admitRequest("commission-evt"))
		require.NoError(t, err)
		require.True(t, created)

		select {
		case event := <-events:
			assert.Equal(t, domain.EventTaskCreated, event.Type)
			assert.Equal(t, admitted.ID, event.TaskID)
			assert.Equal(t, domain.TaskStatusPending, event.Status)
		case <-time.After(time.Second):
			t.Fatal("no task_created event published")
		}
	})
}

func TestManagerLifecycle_CompletesWithOrderedEvents(t *testing.T) {
	t.Parallel()

	p := pipeline.NewScriptedPipeline(
		pipeline.Step{Stage: "fetching source post", Progress: 10},
		pipeline.Step{Stage: "generating text", Progress: 60},
		pipeline.Step{Stage: "creating product", Progress: 100},
	)
	f := newManagerFixture(t, p, quickConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, f.manager.Start())
	defer f.manager.Stop()

	admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-lifecycle"))
	require.NoError(t, err)

	final := waitForStatus(t, f.store, admitted.ID, domain.TaskStatusCompleted)
	assert.Equal(t, 100, final.Progress)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.Zero(t, f.refund.Count())

	// Replay the event stream: created first, then monotonically
	// non-decreasing progress, ending completed.
	var seen []domain.ProgressEvent
	deadline := time.After(time.Second)
	for {
		var done bool
		select {
		case event := <-events:
			seen = append(seen, event)
			done = event.Status == domain.TaskStatusCompleted
		case <-deadline:
			t.Fatalf("event stream never reached completed, saw %d events", len(seen))
		}
		if done {
			break
		}
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, domain.EventTaskCreated, seen[0].Type)

	lastProgress := 0
	for _, event := range seen[1:] {
		assert.Equal(t, domain.EventTaskUpdate, event.Type)
		assert.GreaterOrEqual(t, event.Progress, lastProgress)
		lastProgress = event.Progress
	}

	stages := make([]string, 0, len(seen))
	for _, event := range seen {
		if event.Stage != "" {
			stages = append(stages, event.Stage)
		}
	}
	assert.Subset(t, stages, []string{
		"fetching source post", "generating text", "creating product",
	})
}

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	t.Run("pending task cancels immediately", func(t *testing.T) {
		t.Parallel()

		// No Start: the task stays pending and must never run.
		f := newManagerFixture(t, pipeline.NewScriptedPipeline(), quickConfig())
		ctx := context.Background()

		admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-cancel-pending"))
		require.NoError(t, err)

		cancelled, err := f.manager.Cancel(ctx, admitted.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
		assert.Nil(t, cancelled.StartedAt)
		assert.Zero(t, f.refund.Count())
	})

	t.Run("running task cancels cooperatively", func(t *testing.T) {
		t.Parallel()

		// The pipeline keeps reporting the same stage until a callback
		// returns the cancellation error, then aborts with it.
		observed := make(chan error, 1)
		p := pipelineFunc(func(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) error {
			for {
				if err := report("generating image", 50); err != nil {
					observed <- err
					return err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		})

		f := newManagerFixture(t, p, quickConfig())
		ctx := context.Background()

		require.NoError(t, f.manager.Start())
		defer f.manager.Stop()

		admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-cancel-running"))
		require.NoError(t, err)

		waitForStatus(t, f.store, admitted.ID, domain.TaskStatusInProgress)

		snapshot, err := f.manager.Cancel(ctx, admitted.ID)
		require.NoError(t, err)
		// The flag is advisory; the task is still running right after
		// the request.
		assert.True(t, snapshot.CancelRequested)

		final := waitForStatus(t, f.store, admitted.ID, domain.TaskStatusCancelled)
		assert.Equal(t, domain.TaskStatusCancelled, final.Status)
		assert.Zero(t, f.refund.Count())

		select {
		case err := <-observed:
			assert.ErrorIs(t, err, pipeline.ErrCancelRequested)
		case <-time.After(time.Second):
			t.Fatal("pipeline never observed the cancellation")
		}
	})

	t.Run("terminal task is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newManagerFixture(t, pipeline.NewScriptedPipeline(
			pipeline.Step{Stage: "creating product", Progress: 100},
		), quickConfig())
		ctx := context.Background()

		require.NoError(t, f.manager.Start())
		defer f.manager.Stop()

		admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-cancel-done"))
		require.NoError(t, err)

		waitForStatus(t, f.store, admitted.ID, domain.TaskStatusCompleted)

		got, err := f.manager.Cancel(ctx, admitted.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	})
}

func TestManagerFailure_RefundsExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, pipeline.NewScriptedPipeline(
		pipeline.Step{Stage: "fetching source post", Progress: 10},
		pipeline.Step{Stage: "generating image", Progress: 65, Err: errors.New("image model unavailable")},
	), quickConfig())
	ctx := context.Background()

	require.NoError(t, f.manager.Start())
	defer f.manager.Stop()

	admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-refund"))
	require.NoError(t, err)

	final := waitForStatus(t, f.store, admitted.ID, domain.TaskStatusFailed)
	assert.Equal(t, "image model unavailable", final.ErrorMessage)
	assert.Equal(t, 1, f.refund.Count())
}

func TestManagerPanicInPipeline_FailsTask(t *testing.T) {
	t.Parallel()

	p := pipelineFunc(func(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) error {
		panic("stage blew up")
	})
	f := newManagerFixture(t, p, quickConfig())
	ctx := context.Background()

	require.NoError(t, f.manager.Start())
	defer f.manager.Stop()

	admitted, _, err := f.manager.Admit(ctx, admitRequest("commission-panic"))
	require.NoError(t, err)

	final := waitForStatus(t, f.store, admitted.ID, domain.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "pipeline panic")
	assert.Equal(t, 1, f.refund.Count())
}
