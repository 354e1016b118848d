package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server pings the peer. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages; clients only send small
	// subscribe/ping envelopes.
	maxMessageSize = 512

	// sendBuffer bounds the per-connection outbound queue.
	sendBuffer = 32
)

// ErrSendBufferFull is returned by Send when the connection's outbound
// queue is full. The relay treats it like a dead connection.
var ErrSendBufferFull = errors.New("client send buffer full")

// errClientClosed is returned by Send after the connection is closed.
var errClientClosed = errors.New("client closed")

// Client wraps one WebSocket connection. Reads and writes each run in
// their own pump goroutine; the rest of the system only talks to the
// connection through Send.
type Client struct {
	conn     *websocket.Conn
	registry *Registry
	send     chan []byte
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// newClient wraps an upgraded connection.
func newClient(conn *websocket.Conn, registry *Registry, logger *slog.Logger) *Client {
	return &Client{
		conn:     conn,
		registry: registry,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
	}
}

// Send queues a message for delivery. It never blocks on the peer's
// socket; a full buffer or closed connection returns an error so the
// caller can prune the connection.
func (c *Client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down once; safe to call from any
// goroutine.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.conn.Close()
}

// readPump consumes subscribe/ping messages until the connection
// drops, then unregisters it.
func (c *Client) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("ignoring malformed client message", "error", err)
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage applies one inbound message to the registry.
func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		taskID, err := uuid.Parse(msg.TaskID)
		if err != nil {
			c.logger.Debug("ignoring subscribe with invalid task id", "task_id", msg.TaskID)
			return
		}
		c.registry.SubscribeTask(c, taskID)
		c.logger.Debug("client subscribed to task", "task_id", taskID)

	case MessageTypeSubscribeGeneral:
		c.registry.SubscribeGeneral(c)
		c.logger.Debug("client subscribed to all tasks")

	case MessageTypePing:
		pong, err := json.Marshal(ServerMessage{Type: MessageTypePong})
		if err != nil {
			return
		}
		if err := c.Send(pong); err != nil {
			c.logger.Debug("failed to queue pong", "error", err)
		}

	default:
		c.logger.Debug("ignoring unknown client message type", "type", msg.Type)
	}
}

// writePump flushes the send queue and keeps the connection alive with
// protocol pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
