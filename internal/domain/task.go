package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a commission task
type TaskStatus string

// Possible task status values. TaskStatusReserved is internal to the
// dispatch path (a task claimed from the queue but not yet executing)
// and is never exposed through the API.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReserved   TaskStatus = "reserved"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskType selects the worker strategy that executes the task.
// The selection happens at admission and is immutable for the
// task's lifetime.
type TaskType string

// Supported task types
const (
	// TaskTypeInProcess runs the generation pipeline inside this
	// process on a bounded worker pool.
	TaskTypeInProcess TaskType = "in_process"

	// TaskTypeIsolatedJob submits the task to the out-of-process
	// job runner.
	TaskTypeIsolatedJob TaskType = "isolated_job"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyCommissionRef = errors.New("commission reference cannot be empty")
	ErrInvalidTaskType    = errors.New("invalid task type")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidProgress    = errors.New("progress must be between 0 and 100")
)

// Task represents one unit of orchestrated asynchronous work spawned
// by a confirmed commission payment. The orchestrator is the only
// writer; clients may request cancellation but never mutate state
// directly.
type Task struct {
	ID              uuid.UUID         `json:"task_id"`
	Type            TaskType          `json:"task_type"`
	Status          TaskStatus        `json:"status"`
	Priority        int               `json:"priority"`
	CommissionRef   string            `json:"commission_ref"`
	Commission      CommissionRequest `json:"commission"`
	Stage           string            `json:"stage,omitempty"`
	Progress        int               `json:"progress"`
	ErrorMessage    string            `json:"error,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// NewTask creates a new Task in the pending state for the given
// commission reference. It generates a new UUID for the task ID and
// sets the creation timestamps. Returns an error if validation fails.
func NewTask(
	taskType TaskType,
	commissionRef string,
	priority int,
	commission CommissionRequest,
) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:            uuid.New(),
		Type:          taskType,
		Status:        TaskStatusPending,
		Priority:      priority,
		CommissionRef: commissionRef,
		Commission:    commission,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.CommissionRef == "" {
		return ErrEmptyCommissionRef
	}

	if !IsValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
// Terminal tasks never transition again.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTerminal reports whether the status is one of the three terminal
// states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next follows a
// legal edge of the task state machine. Repeating the current
// terminal state is not a legal edge; callers treat repeated terminal
// signals as no-ops before ever consulting this.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusReserved || next == TaskStatusCancelled
	case TaskStatusReserved:
		// A reserved task may fall back to pending when dispatch fails
		// before execution starts.
		return next == TaskStatusInProgress ||
			next == TaskStatusPending ||
			next == TaskStatusCancelled
	case TaskStatusInProgress:
		return next.IsTerminal()
	default:
		return false
	}
}

// PublicStatus returns the status as exposed through the API.
// The internal reserved state is reported as pending: from a client's
// point of view the task has not started executing yet.
func (t *Task) PublicStatus() TaskStatus {
	if t.Status == TaskStatusReserved {
		return TaskStatusPending
	}
	return t.Status
}

// IsValidTaskType reports whether the given type is a supported
// worker strategy selector.
func IsValidTaskType(tt TaskType) bool {
	return tt == TaskTypeInProcess || tt == TaskTypeIsolatedJob
}

func isValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusReserved, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
