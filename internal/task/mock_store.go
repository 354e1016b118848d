package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// MemoryTaskStore is an in-memory store.TaskStore with the same guarded
// transition semantics as the Postgres implementation. It backs the
// task package tests and single-process development runs; the mutex
// stands in for the row locks, so the claim and transition guarantees
// hold under concurrent use within one process.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

var _ store.TaskStore = (*MemoryTaskStore)(nil)

// CreateTask persists a new pending task.
func (s *MemoryTaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return store.ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tasks {
		if existing.CommissionRef == t.CommissionRef && !existing.IsTerminal() {
			return store.ErrDuplicateCommission
		}
	}

	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemoryTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// GetActiveTaskByCommissionRef returns the non-terminal task for the
// given commission reference.
func (s *MemoryTaskStore) GetActiveTaskByCommissionRef(
	ctx context.Context,
	ref string,
) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.CommissionRef == ref && !t.IsTerminal() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

// ListTasks returns all tasks, newest first.
func (s *MemoryTaskStore) ListTasks(ctx context.Context, activeOnly bool) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*domain.Task
	for _, t := range s.tasks {
		if activeOnly && t.IsTerminal() {
			continue
		}
		cp := *t
		tasks = append(tasks, &cp)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// ClaimNext atomically reserves the highest-ordered pending task.
func (s *MemoryTaskStore) ClaimNext(ctx context.Context) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if next == nil ||
			t.Priority < next.Priority ||
			(t.Priority == next.Priority && t.CreatedAt.Before(next.CreatedAt)) {
			next = t
		}
	}
	if next == nil {
		return nil, store.ErrNoPendingTasks
	}

	next.Status = domain.TaskStatusReserved
	next.UpdatedAt = time.Now().UTC()
	cp := *next
	return &cp, nil
}

// Requeue returns a reserved task to pending.
func (s *MemoryTaskStore) Requeue(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusReserved {
		return store.ErrTaskNotClaimable
	}
	t.Status = domain.TaskStatusPending
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// RequeueAllReserved returns every reserved task to pending.
func (s *MemoryTaskStore) RequeueAllReserved(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusReserved {
			t.Status = domain.TaskStatusPending
			t.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// MarkInProgress transitions a reserved task to in_progress,
// idempotently for tasks already in_progress.
func (s *MemoryTaskStore) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotClaimable
	}
	switch t.Status {
	case domain.TaskStatusReserved:
		now := time.Now().UTC()
		t.Status = domain.TaskStatusInProgress
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		t.UpdatedAt = now
		return nil
	case domain.TaskStatusInProgress:
		return nil
	default:
		return store.ErrTaskNotClaimable
	}
}

// UpdateProgress records a progress callback with the same clamping as
// the SQL implementation.
func (s *MemoryTaskStore) UpdateProgress(
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

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusInProgress {
		return nil, store.ErrTaskNotRunning
	}

	if progress >= t.Progress {
		t.Stage = stage
		t.Progress = progress
	}
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, nil
}

// CompleteTask transitions an in_progress task to completed.
func (s *MemoryTaskStore) CompleteTask(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.terminal(id, domain.TaskStatusCompleted, "")
}

// FailTask transitions an in_progress task to failed.
func (s *MemoryTaskStore) FailTask(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return s.terminal(id, domain.TaskStatusFailed, errMsg)
}

// CancelBeforeDispatch transitions a pending or reserved task to
// cancelled.
func (s *MemoryTaskStore) CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusReserved {
		return false, nil
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
	return true, nil
}

// RequestCancel sets the cooperative cancellation flag.
func (s *MemoryTaskStore) RequestCancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusInProgress {
		return nil, store.ErrTaskNotRunning
	}

	t.CancelRequested = true
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

// AcknowledgeCancel transitions an in_progress task to cancelled.
func (s *MemoryTaskStore) AcknowledgeCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.terminal(id, domain.TaskStatusCancelled, "")
}

// GetStalledTasks returns in_progress tasks older than the duration.
func (s *MemoryTaskStore) GetStalledTasks(
	ctx context.Context,
	olderThan time.Duration,
) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var stalled []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusInProgress && t.UpdatedAt.Before(cutoff) {
			cp := *t
			stalled = append(stalled, &cp)
		}
	}
	return stalled, nil
}

func (s *MemoryTaskStore) terminal(
	id uuid.UUID,
	status domain.TaskStatus,
	errMsg string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusInProgress {
		return false, nil
	}

	now := time.Now().UTC()
	t.Status = status
	t.ErrorMessage = errMsg
	if status == domain.TaskStatusCompleted {
		t.Progress = 100
	}
	t.CompletedAt = &now
	t.UpdatedAt = now
	return true, nil
}
