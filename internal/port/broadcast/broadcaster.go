// Package broadcast defines the port for pushing pipeline notifications to
// the presentation layer.
package broadcast

import "context"

// Broadcaster delivers typed notifications to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends one notification. Implementations must not block
	// on slow clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Notification types. Every payload carries a correlation_id.
const (
	EventPhaseChanged     = "pipeline.phase"
	EventDecisionToken    = "pipeline.token"
	EventDecisionFinal    = "pipeline.decision"
	EventParametersNeeded = "pipeline.parameters"
	EventConfirmNeeded    = "pipeline.confirmation"
	EventCheck            = "pipeline.check"
	EventReport           = "pipeline.report"
	EventRun              = "pipeline.run"
	EventOutput           = "pipeline.output"
	EventFailure          = "pipeline.failure"
)
