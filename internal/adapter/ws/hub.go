// Package ws implements the WebSocket adapters: the notification hub for
// clients and the dialing engine channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/OpsPilot/internal/port/broadcast"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Message is the envelope for all WebSocket notifications.
type Message struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. Messages are queued and written
// by a dedicated goroutine so a slow client never blocks a broadcast.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte
	filter string // correlation id, empty for all
}

func (c *conn) wants(cid string) bool {
	return c.filter == "" || c.filter == cid
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	queueSize int

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	dropped atomic.Int64
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub creates a hub. queueSize bounds the per-connection backlog; a
// client that falls further behind loses messages.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{queueSize: queueSize, conns: make(map[*conn]struct{})}
}

// HandleWS upgrades the request to a WebSocket. The optional query parameter
// correlation_id restricts the stream to one pipeline.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{
		ws:     ws,
		cancel: cancel,
		send:   make(chan []byte, h.queueSize),
		filter: r.URL.Query().Get("correlation_id"),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "correlation_id", c.filter)

	// Reading is only needed to observe the close handshake.
	ctx = ws.CloseRead(ctx)
	go h.writeLoop(ctx, c)
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues msg for every interested client without blocking.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if !c.wants(msg.CorrelationID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			slog.DebugContext(ctx, "websocket client too slow, message dropped", "type", msg.Type)
		}
	}
}

// BroadcastEvent marshals a typed notification and broadcasts it. The
// correlation id is taken from the payload's correlation_id field.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}
	var ref struct {
		CorrelationID string `json:"correlation_id"`
	}
	_ = json.Unmarshal(data, &ref)

	h.Broadcast(ctx, Message{
		Type:          eventType,
		CorrelationID: ref.CorrelationID,
		Payload:       json.RawMessage(data),
	})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns the number of messages dropped for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.cancel()
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
