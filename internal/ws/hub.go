package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Client represents one connected WebSocket peer: a worker identified by its
// registered name, or an operator console.
type Client struct {
	conn   *websocket.Conn
	name   string // worker name, empty for operators
	send   chan Message
	logger *zap.Logger
}

// Hub tracks live connections. Workers are keyed by name so instructions can
// be addressed; operators are an anonymous broadcast set.
type Hub struct {
	mu        sync.RWMutex
	workers   map[string]*Client
	operators map[*Client]struct{}
	logger    *zap.Logger
}

// NewHub creates a WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		workers:   make(map[string]*Client),
		operators: make(map[*Client]struct{}),
		logger:    logger,
	}
}

// RegisterWorker binds a worker connection to its name. A reconnect replaces
// the previous connection, which gets closed. Closes happen under the same
// mutex that guards sends, so a racing SendToWorker can never hit a closed
// channel.
func (h *Hub) RegisterWorker(c *Client) {
	h.mu.Lock()
	if prev := h.workers[c.name]; prev != nil {
		close(prev.send)
	}
	h.workers[c.name] = c
	h.mu.Unlock()
	h.logger.Debug("worker socket connected", zap.String("worker", c.name))
}

// RegisterOperator adds an operator connection to the broadcast set.
func (h *Hub) RegisterOperator(c *Client) {
	h.mu.Lock()
	h.operators[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("operator socket connected")
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.name != "" {
		if h.workers[c.name] == c {
			delete(h.workers, c.name)
			close(c.send)
		}
		return
	}
	if _, ok := h.operators[c]; ok {
		delete(h.operators, c)
		close(c.send)
	}
}

// SendToWorker delivers a message to one worker. Returns false when the
// worker has no live connection or its buffer is full. The read lock is held
// across the send so the channel cannot be closed mid-delivery.
func (h *Hub) SendToWorker(name string, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.workers[name]
	if c == nil {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		h.logger.Warn("worker send buffer full, dropping message",
			zap.String("worker", name), zap.String("type", string(msg.Type)))
		return false
	}
}

// WorkerConnected reports whether a worker has a live connection.
func (h *Hub) WorkerConnected(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.workers[name] != nil
}

// Drop closes a worker's connection, if any. Satisfies the fleet sweeper's
// SocketDropper.
func (h *Hub) Drop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.workers[name]; c != nil {
		delete(h.workers, name)
		close(c.send)
	}
}

// BroadcastOperators delivers a message to every operator. Delivery is
// fire-and-forget: a slow operator loses the message, not the connection.
func (h *Hub) BroadcastOperators(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.operators {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("operator send buffer full, dropping message")
		}
	}
}

// WorkerCount returns the number of connected workers.
func (h *Hub) WorkerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// writePump sends messages from the client's send channel to the socket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump reads from the socket to detect disconnect. Clients do not send
// application messages upstream; results travel over HTTP.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
