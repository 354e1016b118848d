package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// defaultPollInterval is how often Next re-checks the store when no
// wake signal arrives. Local admissions wake the queue immediately;
// the poll covers admissions made by other replicas.
const defaultPollInterval = 2 * time.Second

// Queue orders pending tasks by (priority asc, created_at asc) and
// hands the next eligible task to a dispatcher. The database is the
// queue storage, so the queue survives restarts; the in-process wake
// channel only trims dispatch latency.
type Queue struct {
	store        store.TaskStore
	wake         chan struct{}
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewQueue creates a queue over the given task store.
func NewQueue(taskStore store.TaskStore, pollInterval time.Duration, logger *slog.Logger) *Queue {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Queue{
		store:        taskStore,
		wake:         make(chan struct{}, 1),
		pollInterval: pollInterval,
		logger:       logger.With("component", "task_queue"),
	}
}

// Notify wakes one blocked Next call. Safe to call from any goroutine;
// a pending wake is never stacked.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a pending task can be reserved, then returns it.
// The claim is atomic in the store: no two concurrent callers, in this
// process or another replica, ever receive the same task. Returns the
// ctx error when the context is cancelled.
func (q *Queue) Next(ctx context.Context) (*domain.Task, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		// A cancelled context must not reserve a task the caller will
		// never dispatch.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, err := q.store.ClaimNext(ctx)
		if err == nil {
			q.logger.Debug("claimed task",
				"task_id", t.ID,
				"task_type", t.Type,
				"priority", t.Priority)
			return t, nil
		}
		if !errors.Is(err, store.ErrNoPendingTasks) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// Requeue returns a reserved-but-undispatched task to pending, used
// when a dispatch attempt fails before execution starts.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Requeue(ctx, id); err != nil {
		return err
	}
	q.logger.Info("requeued task after failed dispatch", "task_id", id)
	q.Notify()
	return nil
}

// RecoverReserved is the startup sweep: any task left reserved has no
// live worker (its claimant died before dispatch) and is returned to
// pending.
func (q *Queue) RecoverReserved(ctx context.Context) (int64, error) {
	n, err := q.store.RequeueAllReserved(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("recovered reserved tasks", "count", n)
		q.Notify()
	}
	return n, nil
}
