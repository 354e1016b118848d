package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

func TestQueueNext_OrdersByPriorityThenAge(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())

	// Admitted first but with a larger priority value, so it dispatches
	// second.
	lowPriority := mustCreateTask(store, domain.TaskTypeInProcess, "commission-a", 1)
	highPriority := mustCreateTask(store, domain.TaskTypeInProcess, "commission-b", 0)

	ctx := context.Background()

	first, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, highPriority.ID, first.ID)

	second, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, lowPriority.ID, second.ID)

	// Claimed tasks are reserved, not pending.
	claimed, err := store.GetTask(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusReserved, claimed.Status)
}

func TestQueueNext_EqualPriorityIsFIFO(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())

	older := mustCreateTask(store, domain.TaskTypeInProcess, "commission-old", 3)
	_ = mustCreateTask(store, domain.TaskTypeInProcess, "commission-new", 3)

	first, err := queue.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, older.ID, first.ID)
}

func TestQueueNext_NeverDoubleClaims(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())

	const taskCount = 20
	for i := 0; i < taskCount; i++ {
		mustCreateTask(store, domain.TaskTypeInProcess,
			"commission-"+uuid.NewString(), i%3)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)

	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := queue.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
			}
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(claimed) == taskCount
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()

	for id, count := range claimed {
		assert.Equal(t, 1, count, "task %s claimed more than once", id)
	}
}

func TestQueueNotify_WakesBlockedNext(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	// Poll interval long enough that only the wake signal can explain a
	// prompt claim.
	queue := NewQueue(store, time.Minute, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan *domain.Task, 1)
	go func() {
		task, err := queue.Next(ctx)
		if err == nil {
			results <- task
		}
	}()

	// Let Next block on an empty store first.
	time.Sleep(50 * time.Millisecond)

	created := mustCreateTask(store, domain.TaskTypeInProcess, "commission-wake", 0)
	queue.Notify()

	select {
	case task := <-results:
		assert.Equal(t, created.ID, task.ID)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Notify")
	}
}

func TestQueueNext_ReturnsContextError(t *testing.T) {
	t.Parallel()

	queue := NewQueue(NewMemoryTaskStore(), 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := queue.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueNext_CancelledContextDoesNotClaim(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())

	created := mustCreateTask(store, domain.TaskTypeInProcess, "commission-late-ctx", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := queue.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The pending task must not have been reserved by the dead caller.
	current, err := store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, current.Status)
}

func TestQueueRequeue(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	created := mustCreateTask(store, domain.TaskTypeInProcess, "commission-rq", 0)

	claimed, err := queue.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, claimed.ID)

	require.NoError(t, queue.Requeue(ctx, claimed.ID))

	requeued, err := store.GetTask(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, requeued.Status)

	// The task is claimable again.
	again, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestQueueRecoverReserved(t *testing.T) {
	t.Parallel()

	store := NewMemoryTaskStore()
	queue := NewQueue(store, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	mustCreateTask(store, domain.TaskTypeInProcess, "commission-r1", 0)
	mustCreateTask(store, domain.TaskTypeInProcess, "commission-r2", 0)

	_, err := queue.Next(ctx)
	require.NoError(t, err)
	_, err = queue.Next(ctx)
	require.NoError(t, err)

	recovered, err := queue.RecoverReserved(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recovered)

	tasks, err := store.ListTasks(ctx, true)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}
}
