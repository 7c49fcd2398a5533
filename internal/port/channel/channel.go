// Package channel defines the port for the duplex event connection to the
// remote decision, validation and execution engines.
package channel

import (
	"context"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Handler receives one raw inbound event. Decoding is left to the router so
// that malformed events can be logged and counted in one place.
type Handler func(ctx context.Context, data []byte)

// Channel is a persistent connection to the engines. Only the adapter writes
// to the wire; every other component goes through the router.
type Channel interface {
	// Send writes one event to the engines.
	Send(ctx context.Context, e *event.Envelope) error

	// Receive registers h for every inbound event. The returned function
	// removes the registration.
	Receive(h Handler) (cancel func())

	// Close releases the connection. Send fails afterwards.
	Close() error
}
