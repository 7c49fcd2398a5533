package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/logger"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
	"github.com/Strob0t/OpsPilot/internal/port/messagequeue"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("nats channel closed")

// Channel carries engine events over a message queue. Commands are published
// on "<prefix>.cmd.<topic>" and engine events are consumed from
// "<prefix>.evt.>".
type Channel struct {
	q        messagequeue.Queue
	prefix   string
	handlers channel.Handlers

	mu     sync.Mutex
	stop   func()
	closed bool
}

var _ channel.Channel = (*Channel)(nil)

// NewChannel subscribes to every engine event under prefix.
func NewChannel(ctx context.Context, q messagequeue.Queue, prefix string) (*Channel, error) {
	c := &Channel{q: q, prefix: prefix}
	stop, err := q.Subscribe(ctx, messagequeue.AllEvents(prefix), c.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe engine events: %w", err)
	}
	c.stop = stop
	return c, nil
}

// Send publishes e on its command subject.
func (c *Channel) Send(ctx context.Context, e *event.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Topic, err)
	}
	ctx = logger.WithCorrelationID(ctx, e.CorrelationID)
	return c.q.Publish(ctx, messagequeue.CommandSubject(c.prefix, e.Topic), data)
}

// Receive registers h for every inbound engine event.
func (c *Channel) Receive(h channel.Handler) func() {
	return c.handlers.Add(h)
}

// Close stops the event subscription. The queue itself stays open.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stop != nil {
		c.stop()
	}
	return nil
}

// handle acknowledges every message; a misrouted event is dropped rather
// than redelivered.
func (c *Channel) handle(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(c.prefix, subject, data); err != nil {
		slog.WarnContext(ctx, "dropping engine event", "subject", subject, "error", err)
		return nil
	}
	c.handlers.Dispatch(ctx, data)
	return nil
}
