package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Observer receives the normalized events a pipeline component produces for
// one correlation id, in order.
type Observer func(ctx context.Context, e *event.Envelope)

// emit builds a local event and hands it to observe. A nil observer is allowed.
func emit(ctx context.Context, observe Observer, topic event.Topic, correlationID string, payload any) {
	if observe == nil {
		return
	}
	e, err := event.New(topic, correlationID, payload)
	if err != nil {
		slog.ErrorContext(ctx, "build event", "topic", topic, "error", err)
		return
	}
	observe(ctx, &e)
}

// forward hands an engine event to observe unchanged.
func forward(ctx context.Context, observe Observer, e *event.Envelope) {
	if observe != nil {
		observe(ctx, e)
	}
}
