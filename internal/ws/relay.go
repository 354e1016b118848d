package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

// Relay subscribes to the progress bus and pushes matching events to
// connections in the registry. A push failure means the connection is
// dead or hopelessly backed up; the relay prunes it from the registry
// and moves on. Delivery problems never propagate to the task manager.
type Relay struct {
	subscriber task.BusSubscriber
	registry   *Registry
	logger     *slog.Logger
}

// NewRelay creates a relay between the given bus subscriber and
// registry.
func NewRelay(subscriber task.BusSubscriber, registry *Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Relay")
	}
	return &Relay{
		subscriber: subscriber,
		registry:   registry,
		logger:     logger.With("component", "progress_relay"),
	}
}

// Run consumes bus events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("progress relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("progress relay stopped")
			return nil
		case event, ok := <-events:
			if !ok {
				r.logger.Info("progress relay stopped, bus closed")
				return nil
			}
			r.deliver(event)
		}
	}
}

// deliver routes one event: direct task subscribers receive the bare
// message, general subscribers receive it wrapped in a general_update.
func (r *Relay) deliver(event domain.ProgressEvent) {
	var msg ServerMessage
	switch event.Type {
	case domain.EventTaskCreated:
		msg = newTaskCreatedMessage(event)
	case domain.EventTaskUpdate:
		msg = newTaskUpdateMessage(event)
	default:
		r.logger.Warn("dropping event with unknown type", "event_type", event.Type)
		return
	}

	r.push(r.registry.TaskSubscribers(event.TaskID), msg)
	r.push(r.registry.GeneralSubscribers(), wrapGeneral(msg))
}

// push sends a message to each connection, pruning the ones that fail.
func (r *Relay) push(conns []Conn, msg ServerMessage) {
	if len(conns) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal server message",
			"message_type", msg.Type,
			"error", err)
		return
	}

	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			r.logger.Debug("pruning dead connection", "error", err)
			r.registry.Unregister(c)
			c.Close()
		}
	}
}
