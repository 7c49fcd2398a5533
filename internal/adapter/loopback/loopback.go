// Package loopback implements an in-process engine channel. Sent events are
// handed to an optional responder standing in for the remote engines, and
// inbound events are injected directly.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("loopback channel closed")

// Responder reacts to an event sent by the pipeline. It may call Emit.
type Responder func(ctx context.Context, c *Channel, e *event.Envelope)

// Channel implements channel.Channel in memory.
type Channel struct {
	handlers  channel.Handlers
	responder Responder

	mu     sync.Mutex
	sent   []event.Envelope
	closed bool
}

var _ channel.Channel = (*Channel)(nil)

// New creates a loopback channel. responder may be nil.
func New(responder Responder) *Channel {
	return &Channel{responder: responder}
}

// Send records e and passes it to the responder.
func (c *Channel) Send(ctx context.Context, e *event.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.sent = append(c.sent, *e)
	c.mu.Unlock()

	if c.responder != nil {
		c.responder(ctx, c, e)
	}
	return nil
}

// Receive registers h for injected events.
func (c *Channel) Receive(h channel.Handler) func() {
	return c.handlers.Add(h)
}

// Inject delivers raw data as if it arrived from the engines.
func (c *Channel) Inject(ctx context.Context, data []byte) {
	c.handlers.Dispatch(ctx, data)
}

// Emit encodes e and injects it.
func (c *Channel) Emit(ctx context.Context, e *event.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.Inject(ctx, data)
	return nil
}

// EmitNew builds an engine event with a fresh timestamp and emits it.
func (c *Channel) EmitNew(ctx context.Context, topic event.Topic, correlationID string, payload any) error {
	e, err := event.New(topic, correlationID, payload)
	if err != nil {
		return err
	}
	return c.Emit(ctx, &e)
}

// Sent returns a copy of every event sent so far.
func (c *Channel) Sent() []event.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Envelope(nil), c.sent...)
}

// SentTopics returns the topics of every event sent so far.
func (c *Channel) SentTopics() []event.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Topic, len(c.sent))
	for i := range c.sent {
		out[i] = c.sent[i].Topic
	}
	return out
}

// Close makes further sends fail.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
