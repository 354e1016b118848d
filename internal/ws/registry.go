package ws

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is the registry's view of a live client connection. *Client is
// the production implementation; tests substitute fakes. Send must not
// block: a connection that cannot accept the message returns an error
// and is pruned by the relay.
type Conn interface {
	Send(msg []byte) error
	Close()
}

// Registry tracks live client connections and which task identifiers
// each has subscribed to, plus the "general" subscription receiving
// events for all tasks. It is strictly process-local: cross-process
// fan-out is the progress bus's job, so a mutex is all the
// coordination this needs.
type Registry struct {
	mu sync.RWMutex

	// conns maps every registered connection to its subscribed task IDs.
	conns map[Conn]map[uuid.UUID]struct{}

	// byTask indexes connections by subscribed task for event routing.
	byTask map[uuid.UUID]map[Conn]struct{}

	// general holds connections subscribed to all tasks.
	general map[Conn]struct{}

	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:   make(map[Conn]map[uuid.UUID]struct{}),
		byTask:  make(map[uuid.UUID]map[Conn]struct{}),
		general: make(map[Conn]struct{}),
		logger:  logger.With("component", "connection_registry"),
	}
}

// Register adds a connection with no subscriptions.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = make(map[uuid.UUID]struct{})
	r.logger.Debug("connection registered", "connection_count", len(r.conns))
}

// Unregister removes a connection and all its subscriptions.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, ok := r.conns[c]
	if !ok {
		return
	}

	for taskID := range subscriptions {
		if conns := r.byTask[taskID]; conns != nil {
			delete(conns, c)
			if len(conns) == 0 {
				delete(r.byTask, taskID)
			}
		}
	}
	delete(r.general, c)
	delete(r.conns, c)
	r.logger.Debug("connection unregistered", "connection_count", len(r.conns))
}

// SubscribeTask subscribes a registered connection to one task's
// events. Unknown connections are ignored.
func (r *Registry) SubscribeTask(c Conn, taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, ok := r.conns[c]
	if !ok {
		return
	}

	subscriptions[taskID] = struct{}{}
	if r.byTask[taskID] == nil {
		r.byTask[taskID] = make(map[Conn]struct{})
	}
	r.byTask[taskID][c] = struct{}{}
}

// SubscribeGeneral subscribes a registered connection to all tasks.
func (r *Registry) SubscribeGeneral(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return
	}
	r.general[c] = struct{}{}
}

// TaskSubscribers returns the connections subscribed to the given task.
func (r *Registry) TaskSubscribers(taskID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byTask[taskID]))
	for c := range r.byTask[taskID] {
		conns = append(conns, c)
	}
	return conns
}

// GeneralSubscribers returns the connections with the all-tasks
// subscription.
func (r *Registry) GeneralSubscribers() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.general))
	for c := range r.general {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
