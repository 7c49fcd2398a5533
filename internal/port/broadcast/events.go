package broadcast

import (
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/execution"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// PhaseEvent is the payload of EventPhaseChanged.
type PhaseEvent struct {
	CorrelationID  string      `json:"correlation_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Phase          phase.Phase `json:"phase"`
	Settled        bool        `json:"settled,omitempty"`
}

// TokenEvent is the payload of EventDecisionToken.
type TokenEvent struct {
	CorrelationID string `json:"correlation_id"`
	Text          string `json:"text"`
}

// DecisionEvent is the payload of EventDecisionFinal.
type DecisionEvent struct {
	CorrelationID string             `json:"correlation_id"`
	Decision      *decision.Decision `json:"decision"`
}

// InputEvent is the payload of EventParametersNeeded and EventConfirmNeeded.
type InputEvent struct {
	CorrelationID string                         `json:"correlation_id"`
	Awaiting      pipeline.Awaiting              `json:"awaiting"`
	Decision      *decision.Decision             `json:"decision"`
	Parameters    []decision.ParameterDescriptor `json:"parameters,omitempty"`
}

// CheckEvent is the payload of EventCheck.
type CheckEvent struct {
	CorrelationID string          `json:"correlation_id"`
	Check         preflight.Check `json:"check"`
}

// ReportEvent is the payload of EventReport.
type ReportEvent struct {
	CorrelationID string            `json:"correlation_id"`
	Report        *preflight.Report `json:"report"`
}

// RunEvent is the payload of EventRun.
type RunEvent struct {
	CorrelationID string         `json:"correlation_id"`
	Run           *execution.Run `json:"run"`
}

// OutputEvent is the payload of EventOutput.
type OutputEvent struct {
	CorrelationID string `json:"correlation_id"`
	RunID         string `json:"run_id,omitempty"`
	Line          string `json:"line"`
}

// FailureEvent is the payload of EventFailure.
type FailureEvent struct {
	CorrelationID string            `json:"correlation_id"`
	Failure       *pipeline.Failure `json:"failure"`
}
