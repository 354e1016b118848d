package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

// relayFixture runs a relay over an in-memory bus until the test ends.
type relayFixture struct {
	bus      *task.InMemoryBus
	registry *Registry
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	logger := testLogger()
	f := &relayFixture{
		bus:      task.NewInMemoryBus(logger),
		registry: NewRegistry(logger),
	}

	relay := NewRelay(f.bus, f.registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the relay subscribe before the test publishes.
	time.Sleep(10 * time.Millisecond)
	return f
}

func (f *relayFixture) publish(t *testing.T, event domain.ProgressEvent) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(), event))
}

// waitForMessages blocks until the connection has received n payloads.
func waitForMessages(t *testing.T, conn *fakeConn, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.Sent()) >= n
	}, time.Second, 5*time.Millisecond, "connection never received %d messages", n)
	return conn.Sent()
}

func TestRelay_DeliversToTaskSubscribers(t *testing.T) {
	t.Parallel()

	f := newRelayFixture(t)
	conn := &fakeConn{}
	taskID := uuid.New()

	f.registry.Register(conn)
	f.registry.SubscribeTask(conn, taskID)

	f.publish(t, domain.ProgressEvent{
		Type:     domain.EventTaskUpdate,
		TaskID:   taskID,
		Status:   domain.TaskStatusInProgress,
		Stage:    "generating image",
		Progress: 65,
	})

	payloads := waitForMessages(t, conn, 1)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(payloads[0], &msg))
	assert.Equal(t, MessageTypeTaskUpdate, msg.Type)
	assert.Equal(t, taskID.String(), msg.TaskID)
}

func TestRelay_DoesNotDeliverOtherTasks(t *testing.T) {
	t.Parallel()

	f := newRelayFixture(t)
	subscribed := &fakeConn{}
	watched := uuid.New()

	f.registry.Register(subscribed)
	f.registry.SubscribeTask(subscribed, watched)

	f.publish(t, domain.ProgressEvent{
		Type:   domain.EventTaskUpdate,
		TaskID: uuid.New(),
	})
	// Follow with a watched event so we know the first was processed.
	f.publish(t, domain.ProgressEvent{
		Type:   domain.EventTaskUpdate,
		TaskID: watched,
	})

	payloads := waitForMessages(t, subscribed, 1)
	require.Len(t, payloads, 1)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(payloads[0], &msg))
	assert.Equal(t, watched.String(), msg.TaskID)
}

func TestRelay_WrapsGeneralSubscription(t *testing.T) {
	t.Parallel()

	f := newRelayFixture(t)
	dashboard := &fakeConn{}
	taskID := uuid.New()

	f.registry.Register(dashboard)
	f.registry.SubscribeGeneral(dashboard)

	f.publish(t, domain.ProgressEvent{
		Type:          domain.EventTaskCreated,
		TaskID:        taskID,
		Status:        domain.TaskStatusPending,
		CommissionRef: "commission-dash",
	})

	payloads := waitForMessages(t, dashboard, 1)

	var outer ServerMessage
	require.NoError(t, json.Unmarshal(payloads[0], &outer))
	assert.Equal(t, MessageTypeGeneralUpdate, outer.Type)

	inner, err := json.Marshal(outer.Data)
	require.NoError(t, err)
	var wrapped ServerMessage
	require.NoError(t, json.Unmarshal(inner, &wrapped))
	assert.Equal(t, MessageTypeTaskCreated, wrapped.Type)
	assert.Equal(t, taskID.String(), wrapped.TaskID)
	assert.Equal(t, "commission-dash", wrapped.CommissionRef)
}

func TestRelay_PrunesDeadConnections(t *testing.T) {
	t.Parallel()

	f := newRelayFixture(t)
	dead := &fakeConn{sendErr: errConnDead}
	live := &fakeConn{}
	taskID := uuid.New()

	f.registry.Register(dead)
	f.registry.Register(live)
	f.registry.SubscribeTask(dead, taskID)
	f.registry.SubscribeTask(live, taskID)

	f.publish(t, domain.ProgressEvent{
		Type:   domain.EventTaskUpdate,
		TaskID: taskID,
	})

	waitForMessages(t, live, 1)

	require.Eventually(t, func() bool {
		return dead.Closed()
	}, time.Second, 5*time.Millisecond, "dead connection was not closed")
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, []Conn{live}, f.registry.TaskSubscribers(taskID))
}
