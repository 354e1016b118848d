// Package redisbus implements the progress bus and the isolated-job
// queue on Redis. The bus is what lets an out-of-process job worker
// report progress to WebSocket clients held by any API replica.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

// eventChannel is the single pub/sub channel carrying every task
// event. One channel keeps per-task FIFO ordering and avoids
// SUBSCRIBE churn as tasks come and go; relays filter per task against
// their local registry.
const eventChannel = "commission:task-events"

// Bus is a Redis Pub/Sub implementation of the progress bus. Any
// number of processes may publish and any number may subscribe;
// delivery is at-least-once with no replay for late subscribers.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBus creates a bus over the given Redis client.
func NewBus(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Bus")
	}
	return &Bus{
		client: client,
		logger: logger.With("component", "redis_bus"),
	}
}

var (
	_ task.ProgressBus   = (*Bus)(nil)
	_ task.BusSubscriber = (*Bus)(nil)
)

// Publish delivers the event to every subscribed relay.
func (b *Bus) Publish(ctx context.Context, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if err := b.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Subscribe returns a channel carrying every published event until ctx
// is cancelled. Malformed payloads are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.ProgressEvent, error) {
	sub := b.client.Subscribe(ctx, eventChannel)

	// Force the subscription before returning so publishes after this
	// call are never missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventChannel, err)
	}

	events := make(chan domain.ProgressEvent)

	go func() {
		defer close(events)
		defer func() { _ = sub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}

				var event domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Error("failed to decode progress event",
						"channel", msg.Channel,
						"error", err)
					continue
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
