// Package postgres implements the persistence interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/logger"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// taskColumns is the column list shared by every query that scans a
// full task row.
const taskColumns = `id, task_type, status, priority, commission_ref, commission,
	stage, progress, error_message, cancel_requested,
	created_at, updated_at, started_at, completed_at`

// TaskStore implements the store.TaskStore interface using PostgreSQL.
// Every state transition is a single guarded UPDATE whose WHERE clause
// names the required prior status; the row count tells the caller
// whether this call performed the transition. That is what makes
// terminal edges idempotent and dispatch race-free across replicas.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{
		db: db,
	}
}

// Statically verify the interface is satisfied.
var _ store.TaskStore = (*TaskStore)(nil)

// CreateTask persists a new pending task.
func (s *TaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	commission, err := json.Marshal(t.Commission)
	if err != nil {
		return fmt.Errorf("failed to marshal commission payload: %w", err)
	}

	query := `
		INSERT INTO tasks (id, task_type, status, priority, commission_ref, commission,
			stage, progress, error_message, cancel_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.Type,
		t.Status,
		t.Priority,
		t.CommissionRef,
		commission,
		t.Stage,
		t.Progress,
		t.ErrorMessage,
		t.CancelRequested,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			// The partial unique index on commission_ref only covers
			// non-terminal rows, so this is a concurrent duplicate admission.
			return fmt.Errorf("%w: %v", store.ErrDuplicateCommission, err)
		}
		log.Error("failed to save task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return fmt.Errorf("failed to save task to database: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	t, err := s.scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetActiveTaskByCommissionRef returns the non-terminal task for the
// given commission reference.
func (s *TaskStore) GetActiveTaskByCommissionRef(
	ctx context.Context,
	ref string,
) (*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE commission_ref = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		LIMIT 1`, taskColumns)

	t, err := s.scanTask(s.db.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task by commission ref: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks, newest first.
func (s *TaskStore) ListTasks(ctx context.Context, activeOnly bool) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := fmt.Sprintf(`SELECT %s FROM tasks ORDER BY created_at DESC`, taskColumns)
	if activeOnly {
		query = fmt.Sprintf(`
			SELECT %s FROM tasks
			WHERE status IN ('pending', 'reserved', 'in_progress')
			ORDER BY created_at DESC`, taskColumns)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list tasks", "error", err)
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.collectTasks(rows)
}

// ClaimNext atomically reserves the highest-ordered pending task.
// FOR UPDATE SKIP LOCKED guarantees two concurrent claimants can never
// select the same row, even across replicas.
func (s *TaskStore) ClaimNext(ctx context.Context) (*domain.Task, error) {
	query := fmt.Sprintf(`
		UPDATE tasks SET status = 'reserved', updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, taskColumns)

	t, err := s.scanTask(s.db.QueryRowContext(ctx, query, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoPendingTasks
		}
		return nil, fmt.Errorf("failed to claim next task: %w", err)
	}
	return t, nil
}

// Requeue returns a reserved-but-undispatched task to pending.
func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks SET status = 'pending', updated_at = $2
		WHERE id = $1 AND status = 'reserved'
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotClaimable
	}
	return nil
}

// RequeueAllReserved returns every reserved task to pending.
func (s *TaskStore) RequeueAllReserved(ctx context.Context) (int64, error) {
	query := `
		UPDATE tasks SET status = 'pending', updated_at = $1
		WHERE status = 'reserved'
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue reserved tasks: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// MarkInProgress transitions a reserved task to in_progress. The
// in_progress case is accepted too so the API replica and the job
// process can both report the start without racing each other.
func (s *TaskStore) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = 'in_progress',
		    started_at = COALESCE(started_at, $2),
		    updated_at = $2
		WHERE id = $1 AND status IN ('reserved', 'in_progress')
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark task in progress: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotClaimable
	}
	return nil
}

// UpdateProgress records a progress callback. Progress is clamped to
// be non-decreasing in SQL; the stage only moves forward with it, so
// an out-of-order callback can neither rewind the bar nor regress the
// stage label.
func (s *TaskStore) UpdateProgress(
	ctx context.Context,
	id uuid.UUID,
	stage string,
	progress int,
) (*domain.Task, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	query := fmt.Sprintf(`
		UPDATE tasks
		SET progress = GREATEST(progress, $2),
		    stage = CASE WHEN $2 >= progress THEN $3 ELSE stage END,
		    updated_at = $4
		WHERE id = $1 AND status = 'in_progress'
		RETURNING %s`, taskColumns)

	t, err := s.scanTask(s.db.QueryRowContext(ctx, query, id, progress, stage, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotRunning
		}
		return nil, fmt.Errorf("failed to update task progress: %w", err)
	}
	return t, nil
}

// CompleteTask transitions an in_progress task to completed.
func (s *TaskStore) CompleteTask(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'completed', progress = 100, completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'in_progress'
	`
	return s.execTransition(ctx, query, id, time.Now().UTC())
}

// FailTask transitions an in_progress task to failed with the given
// error message.
func (s *TaskStore) FailTask(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'failed', error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'in_progress'
	`
	return s.execTransition(ctx, query, id, errMsg, time.Now().UTC())
}

// CancelBeforeDispatch transitions a pending or reserved task directly
// to cancelled.
func (s *TaskStore) CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'reserved')
	`
	return s.execTransition(ctx, query, id, time.Now().UTC())
}

// RequestCancel sets the cooperative cancellation flag on an
// in_progress task.
func (s *TaskStore) RequestCancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`
		UPDATE tasks
		SET cancel_requested = TRUE, updated_at = $2
		WHERE id = $1 AND status = 'in_progress'
		RETURNING %s`, taskColumns)

	t, err := s.scanTask(s.db.QueryRowContext(ctx, query, id, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotRunning
		}
		return nil, fmt.Errorf("failed to request task cancellation: %w", err)
	}
	return t, nil
}

// AcknowledgeCancel transitions an in_progress task to cancelled.
func (s *TaskStore) AcknowledgeCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'in_progress'
	`
	return s.execTransition(ctx, query, id, time.Now().UTC())
}

// GetStalledTasks returns in_progress tasks whose last write is older
// than the given duration.
func (s *TaskStore) GetStalledTasks(
	ctx context.Context,
	olderThan time.Duration,
) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = 'in_progress' AND updated_at < $1
		ORDER BY updated_at ASC`, taskColumns)

	rows, err := s.db.QueryContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		log.Error("failed to query stalled tasks", "error", err)
		return nil, fmt.Errorf("failed to query stalled tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.collectTasks(rows)
}

// execTransition runs a guarded transition UPDATE and reports whether
// a row changed.
func (s *TaskStore) execTransition(
	ctx context.Context,
	query string,
	args ...any,
) (bool, error) {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to execute task transition", "error", err)
		return false, fmt.Errorf("failed to execute task transition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *TaskStore) scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t          domain.Task
		commission []byte
		stage      sql.NullString
		errMsg     sql.NullString
		startedAt  sql.NullTime
		completed  sql.NullTime
	)

	if err := row.Scan(
		&t.ID,
		&t.Type,
		&t.Status,
		&t.Priority,
		&t.CommissionRef,
		&commission,
		&stage,
		&t.Progress,
		&errMsg,
		&t.CancelRequested,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completed,
	); err != nil {
		return nil, err
	}

	if len(commission) > 0 {
		if err := json.Unmarshal(commission, &t.Commission); err != nil {
			return nil, fmt.Errorf("failed to unmarshal commission payload: %w", err)
		}
	}
	t.Stage = stage.String
	t.ErrorMessage = errMsg.String
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if completed.Valid {
		ts := completed.Time
		t.CompletedAt = &ts
	}

	return &t, nil
}

func (s *TaskStore) collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}
