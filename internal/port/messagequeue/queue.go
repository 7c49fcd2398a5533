// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"strings"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject segments. Commands flow from the pipeline to the engines under
// "<prefix>.cmd.<topic>", engine events flow back under "<prefix>.evt.<topic>".
const (
	segmentCommand = "cmd"
	segmentEvent   = "evt"
)

// CommandSubject returns the subject a pipeline command is published on.
func CommandSubject(prefix string, topic event.Topic) string {
	return prefix + "." + segmentCommand + "." + string(topic)
}

// EventSubject returns the subject an engine publishes topic on.
func EventSubject(prefix string, topic event.Topic) string {
	return prefix + "." + segmentEvent + "." + string(topic)
}

// AllEvents returns the wildcard matching every engine event.
func AllEvents(prefix string) string {
	return prefix + "." + segmentEvent + ".>"
}

// AllCommands returns the wildcard matching every pipeline command.
func AllCommands(prefix string) string {
	return prefix + "." + segmentCommand + ".>"
}

// TopicOf extracts the event topic from a command or event subject.
func TopicOf(prefix, subject string) (event.Topic, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", false
	}
	seg, topic, ok := strings.Cut(rest, ".")
	if !ok || (seg != segmentCommand && seg != segmentEvent) || topic == "" {
		return "", false
	}
	return event.Topic(topic), true
}
