// Package ws provides the WebSocket layer: a push channel to workers for
// launch and stop instructions, and a notification stream for operator
// consoles.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Handler provides the WebSocket endpoints.
type Handler struct {
	hub    *Hub
	tokens *fleet.TokenService
	bus    plugin.EventBus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to entity
// notifications.
func NewHandler(tokens *fleet.TokenService, bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// Hub exposes the connection registry so the scheduler can push instructions
// and the fleet sweeper can drop reaped workers.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/worker", h.handleWorker)
	mux.HandleFunc("GET /api/v1/ws/operator", h.handleOperator)
}

// handleWorker upgrades a worker connection. The worker authenticates with
// the JWT issued at registration, passed as a query parameter because the
// browser and most WS clients cannot set headers on the upgrade request.
func (h *Handler) handleWorker(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token parameter", http.StatusUnauthorized)
		return
	}
	name, err := h.tokens.Validate(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow any origin since we validate via JWT token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		name:   name,
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	h.hub.RegisterWorker(client)
	h.runPumps(r.Context(), client)
}

// handleOperator upgrades an operator console connection. Operator identity
// is terminated by the reverse proxy in front of the API.
func (h *Handler) handleOperator(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	h.hub.RegisterOperator(client)
	h.runPumps(r.Context(), client)
}

// runPumps drives a connection until either side closes it.
func (h *Handler) runPumps(ctx context.Context, client *Client) {
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until the client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	client.conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards entity notifications to operator consoles.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}
	h.bus.Subscribe(entities.TopicNotification, func(_ context.Context, event plugin.Event) {
		n, ok := event.Payload.(models.Notification)
		if !ok {
			return
		}
		h.hub.BroadcastOperators(Message{
			Type:      MessageNotification,
			Pentest:   n.Pentest,
			Timestamp: event.Timestamp,
			Data:      NotificationData{Notification: n},
		})
	})
}
