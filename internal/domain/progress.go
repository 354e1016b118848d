package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEventType identifies the kind of event carried on the
// progress bus.
type ProgressEventType string

// Event types published on the progress bus
const (
	// EventTaskCreated is published once at admission.
	EventTaskCreated ProgressEventType = "task_created"

	// EventTaskUpdate is published on every status, stage or progress
	// change, including the terminal one.
	EventTaskUpdate ProgressEventType = "task_update"
)

// ProgressEvent is the ephemeral delta moved from a worker to every
// subscriber through the progress bus. It is never persisted beyond
// the task's latest snapshot.
type ProgressEvent struct {
	Type          ProgressEventType `json:"type"`
	TaskID        uuid.UUID         `json:"task_id"`
	Status        TaskStatus        `json:"status"`
	Stage         string            `json:"stage,omitempty"`
	Progress      int               `json:"progress"`
	Error         string            `json:"error,omitempty"`
	CommissionRef string            `json:"commission_ref,omitempty"`
	EmittedAt     time.Time         `json:"emitted_at"`
}

// NewProgressEvent builds an event describing the task's current
// snapshot. The reserved state never leaves the orchestrator, so the
// event carries the public status.
func NewProgressEvent(eventType ProgressEventType, t *Task) ProgressEvent {
	return ProgressEvent{
		Type:          eventType,
		TaskID:        t.ID,
		Status:        t.PublicStatus(),
		Stage:         t.Stage,
		Progress:      t.Progress,
		Error:         t.ErrorMessage,
		CommissionRef: t.CommissionRef,
		EmittedAt:     time.Now().UTC(),
	}
}
