package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// ProgressBus is the publish side of the progress event channel. Any
// number of orchestrator-facing processes may publish; the bus exists
// so an out-of-process job can report progress without a direct
// connection back to the API replica holding the client's WebSocket.
type ProgressBus interface {
	// Publish delivers the event to every subscriber. Delivery is
	// at-least-once; events for a single task are delivered to a given
	// subscriber in publish order.
	Publish(ctx context.Context, event domain.ProgressEvent) error
}

// BusSubscriber is the consume side of the progress event channel.
type BusSubscriber interface {
	// Subscribe returns a channel carrying every published event. The
	// channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan domain.ProgressEvent, error)
}

// subscriberBuffer bounds each in-memory subscriber channel. A
// subscriber that stops draining loses events rather than blocking
// publishers.
const subscriberBuffer = 64

// InMemoryBus is a process-local ProgressBus for single-replica
// deployments and tests. Cross-process deployments use the redis
// implementation instead.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   map[chan domain.ProgressEvent]struct{}
	logger *slog.Logger
}

// NewInMemoryBus creates a new in-memory progress bus.
func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	return &InMemoryBus{
		subs:   make(map[chan domain.ProgressEvent]struct{}),
		logger: logger.With("component", "in_memory_bus"),
	}
}

// Publish delivers the event to all current subscribers. The sends
// happen under the read lock: they are non-blocking, and holding the
// lock keeps them mutually exclusive with the close in Subscribe's
// cleanup, so a send can never hit a closed channel.
func (b *InMemoryBus) Publish(ctx context.Context, event domain.ProgressEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the publisher.
			b.logger.Warn("dropping progress event for slow subscriber",
				"task_id", event.TaskID,
				"event_type", event.Type)
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel. The channel is removed
// and closed when ctx is cancelled; the close happens under the write
// lock so no publisher can still hold the channel.
func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan domain.ProgressEvent, error) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
