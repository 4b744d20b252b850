package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"herald/internal/app/notification"
	"herald/internal/shared/logging"
	"herald/internal/shared/utils/id"
)

const (
	defaultWriteWait = 10 * time.Second
	maxInboundBytes  = 4096
)

// ErrUnknownHandle is returned by Send for a handle with no live connection.
var ErrUnknownHandle = errors.New("websocket: unknown handle")

// ChannelRegistry tracks the live handles events are broadcast to.
type ChannelRegistry interface {
	Connect(handle notification.Handle)
	Disconnect(handle notification.Handle)
}

type wsClient struct {
	conn    *websocket.Conn
	owner   string
	writeMu sync.Mutex
}

// WebSocketHub owns upgraded connections and implements notification.Sink
// over them. Each connection is written by one goroutine at a time.
type WebSocketHub struct {
	upgrader  websocket.Upgrader
	writeWait time.Duration
	logger    logging.Logger

	mu      sync.RWMutex
	clients map[notification.Handle]*wsClient
}

// NewWebSocketHub builds a hub. allowedOrigins empty or containing "*"
// accepts any origin.
func NewWebSocketHub(writeWait time.Duration, allowedOrigins []string, logger logging.Logger) *WebSocketHub {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("WebSocketHub")
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		writeWait: writeWait,
		logger:    logger,
		clients:   make(map[notification.Handle]*wsClient),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Send writes one event to the connection behind handle.
func (h *WebSocketHub) Send(ctx context.Context, handle notification.Handle, event notification.Event) error {
	h.mu.RLock()
	client, ok := h.clients[handle]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}

	deadline := time.Now().Add(h.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	err := client.conn.SetWriteDeadline(deadline)
	if err == nil {
		err = client.conn.WriteJSON(event)
	}
	if err != nil {
		// A failed write leaves the frame stream unusable. Closing ends the
		// read loop in Handler, which unregisters the handle.
		_ = client.conn.Close()
		return fmt.Errorf("websocket %s: %w", handle, err)
	}
	return nil
}

// Len reports the number of open connections.
func (h *WebSocketHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[notification.Handle]*wsClient)
	h.mu.Unlock()
	for _, client := range clients {
		client.writeMu.Lock()
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.writeMu.Unlock()
		_ = client.conn.Close()
	}
}

// Handler upgrades the request and keeps the connection registered with
// registry until the peer goes away. Inbound frames are drained and ignored.
func (h *WebSocketHub) Handler(registry ChannelRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed: %v", err)
			return
		}
		handle := notification.Handle(id.NewHandle())
		client := &wsClient{conn: conn, owner: ownerFrom(c)}

		h.mu.Lock()
		h.clients[handle] = client
		h.mu.Unlock()
		registry.Connect(handle)
		h.logger.Info("websocket %s connected (owner=%s)", handle, client.owner)

		defer func() {
			registry.Disconnect(handle)
			h.mu.Lock()
			delete(h.clients, handle)
			h.mu.Unlock()
			_ = conn.Close()
			h.logger.Info("websocket %s disconnected", handle)
		}()

		conn.SetReadLimit(maxInboundBytes)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket %s read error: %v", handle, err)
				}
				return
			}
		}
	}
}
