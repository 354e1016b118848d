// Package ws implements the real-time client channel: the WebSocket
// endpoint, the process-local connection registry and the relay that
// fans progress-bus events out to subscribed connections.
package ws

import (
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// Client message types
const (
	// MessageTypeSubscribe subscribes the connection to one task's
	// updates. The client learns the task ID from admission or a list
	// query.
	MessageTypeSubscribe = "subscribe"

	// MessageTypeSubscribeGeneral subscribes the connection to events
	// for all tasks (dashboards).
	MessageTypeSubscribeGeneral = "subscribe_general"

	// MessageTypePing requests a pong, for clients that keep their own
	// liveness clock.
	MessageTypePing = "ping"
)

// Server message types
const (
	MessageTypeTaskUpdate    = "task_update"
	MessageTypeTaskCreated   = "task_created"
	MessageTypeGeneralUpdate = "general_update"
	MessageTypePong          = "pong"
)

// ClientMessage is the inbound message envelope.
type ClientMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}

// ServerMessage is the outbound message envelope. Exactly one of the
// payload fields is set depending on Type.
type ServerMessage struct {
	Type          string `json:"type"`
	TaskID        string `json:"task_id,omitempty"`
	Data          any    `json:"data,omitempty"`
	TaskInfo      any    `json:"task_info,omitempty"`
	CommissionRef string `json:"commission_ref,omitempty"`
}

// newTaskUpdateMessage builds the per-task update push.
func newTaskUpdateMessage(event domain.ProgressEvent) ServerMessage {
	return ServerMessage{
		Type:   MessageTypeTaskUpdate,
		TaskID: event.TaskID.String(),
		Data:   event,
	}
}

// newTaskCreatedMessage builds the admission push.
func newTaskCreatedMessage(event domain.ProgressEvent) ServerMessage {
	return ServerMessage{
		Type:          MessageTypeTaskCreated,
		TaskID:        event.TaskID.String(),
		TaskInfo:      event,
		CommissionRef: event.CommissionRef,
	}
}

// wrapGeneral wraps a message for the all-tasks subscription.
func wrapGeneral(inner ServerMessage) ServerMessage {
	return ServerMessage{
		Type: MessageTypeGeneralUpdate,
		Data: inner,
	}
}
