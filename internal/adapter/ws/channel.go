package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("websocket channel closed")

// ErrNotConnected is returned by Send while the connection is being re-established.
var ErrNotConnected = errors.New("websocket channel not connected")

const (
	minBackoff  = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
	readLimit   = 1 << 20
	sendTimeout = 10 * time.Second
)

// Channel is the engine channel over a WebSocket dialed to the remote agent.
// A dropped connection is re-dialed with exponential backoff; events sent
// while disconnected fail with ErrNotConnected.
type Channel struct {
	url         string
	dialTimeout time.Duration
	handlers    channel.Handlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	conn *websocket.Conn
}

var _ channel.Channel = (*Channel)(nil)

// Dial connects to cfg.AgentURL and starts the read loop.
func Dial(ctx context.Context, cfg config.Channel) (*Channel, error) {
	c := &Channel{url: cfg.AgentURL, dialTimeout: cfg.DialTimeout, done: make(chan struct{})}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go c.readLoop()
	slog.Info("engine channel connected", "url", c.url)
	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Send writes e as one text message.
func (c *Channel) Send(ctx context.Context, e *event.Envelope) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Topic, err)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", e.Topic, err)
	}
	return nil
}

// Receive registers h for every inbound engine event.
func (c *Channel) Receive(h channel.Handler) func() {
	return c.handlers.Add(h)
}

// Close stops reconnecting and closes the connection.
func (c *Channel) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	<-c.done
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	backoff := minBackoff
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn != nil {
			c.consume(conn)
			backoff = minBackoff
		}
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}
		next, err := c.dial(c.ctx)
		if err != nil {
			slog.Warn("engine channel reconnect failed", "url", c.url, "retry_in", backoff, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		c.mu.Lock()
		c.conn = next
		c.mu.Unlock()
		slog.Info("engine channel reconnected", "url", c.url)
	}
}

// consume dispatches messages until the connection fails.
func (c *Channel) consume(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("engine channel read failed", "error", err)
			}
			_ = conn.CloseNow()
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("ignoring binary engine message", "bytes", len(data))
			continue
		}
		c.handlers.Dispatch(c.ctx, data)
	}
}
