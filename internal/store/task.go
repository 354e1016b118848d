package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// TaskStore defines the persistence contract for commission tasks.
// It is the single source of truth for task state: every transition is
// one atomic, guarded write keyed by task ID, which is what upholds
// the at-most-one-worker invariant across orchestrator replicas.
//
// Methods returning a bool report whether this call performed the
// transition. A false result with a nil error means the task was
// already past the guarded state; terminal signals are idempotent and
// callers must treat the false case as a no-op, not an error.
type TaskStore interface {
	// CreateTask persists a new pending task. Returns
	// ErrDuplicateCommission when a non-terminal task already exists for
	// the same commission reference.
	CreateTask(ctx context.Context, t *domain.Task) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound when the
	// task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetActiveTaskByCommissionRef returns the non-terminal task for the
	// given commission reference, or ErrTaskNotFound when none exists.
	// Used for idempotent admission.
	GetActiveTaskByCommissionRef(ctx context.Context, ref string) (*domain.Task, error)

	// ListTasks returns all tasks, newest first. When activeOnly is set,
	// only pending, reserved and in_progress tasks are returned.
	ListTasks(ctx context.Context, activeOnly bool) ([]*domain.Task, error)

	// ClaimNext atomically reserves and returns the highest-ordered
	// pending task (priority asc, created_at asc). No two concurrent
	// callers can ever receive the same task. Returns ErrNoPendingTasks
	// when the queue is empty.
	ClaimNext(ctx context.Context) (*domain.Task, error)

	// Requeue returns a reserved-but-undispatched task to pending.
	Requeue(ctx context.Context, id uuid.UUID) error

	// RequeueAllReserved returns every reserved task to pending. Called
	// once at startup: a task left reserved has no live worker, its
	// claimant died before dispatch.
	RequeueAllReserved(ctx context.Context) (int64, error)

	// MarkInProgress transitions a reserved task to in_progress and sets
	// started_at. It is idempotent for tasks already in_progress (the
	// isolated-job path can race the job process on this edge). Returns
	// ErrTaskNotClaimable when the task is in any other state.
	MarkInProgress(ctx context.Context, id uuid.UUID) error

	// UpdateProgress records a progress callback for an in_progress
	// task, clamping progress to be non-decreasing and ignoring stage
	// regressions. Returns the updated snapshot, or ErrTaskNotRunning
	// when the task is not in_progress.
	UpdateProgress(ctx context.Context, id uuid.UUID, stage string, progress int) (*domain.Task, error)

	// CompleteTask transitions an in_progress task to completed.
	CompleteTask(ctx context.Context, id uuid.UUID) (bool, error)

	// FailTask transitions an in_progress task to failed and records the
	// error message.
	FailTask(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)

	// CancelBeforeDispatch transitions a pending or reserved task
	// directly to cancelled.
	CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error)

	// RequestCancel sets the cooperative cancellation flag on an
	// in_progress task and returns the updated snapshot. Returns
	// ErrTaskNotRunning when the task is not in_progress.
	RequestCancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// AcknowledgeCancel transitions an in_progress task to cancelled.
	// Called when the worker confirms the cooperative abort.
	AcknowledgeCancel(ctx context.Context, id uuid.UUID) (bool, error)

	// GetStalledTasks returns in_progress tasks whose last write is
	// older than the given duration. These are candidates for the
	// liveness-timeout failure.
	GetStalledTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)
}
