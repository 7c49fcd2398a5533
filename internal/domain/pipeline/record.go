package pipeline

import (
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/execution"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// Awaiting names the input a paused pipeline waits for.
type Awaiting string

const (
	AwaitNothing      Awaiting = ""
	AwaitParameters   Awaiting = "parameters"
	AwaitConfirmation Awaiting = "confirmation"
)

// Record is the recoverable state of one pipeline.
type Record struct {
	CorrelationID  string                         `json:"correlation_id"`
	ConversationID string                         `json:"conversation_id"`
	TenantID       string                         `json:"tenant_id,omitempty"`
	TargetID       string                         `json:"target_id,omitempty"`
	Utterance      string                         `json:"utterance,omitempty"`
	Phase          phase.State                    `json:"phase"`
	Decision       *decision.Decision             `json:"decision,omitempty"`
	Report         *preflight.Report              `json:"report,omitempty"`
	Run            *execution.Run                 `json:"run,omitempty"`
	Failure        *Failure                       `json:"failure,omitempty"`
	Awaiting       Awaiting                       `json:"awaiting,omitempty"`
	Parameters     []decision.ParameterDescriptor `json:"parameters,omitempty"`
	Abandoned      bool                           `json:"abandoned,omitempty"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// Resumable reports whether a session can be rebuilt from the record.
func (r *Record) Resumable() bool {
	if r.Abandoned || r.Phase.Closed() {
		return false
	}
	if r.Awaiting != AwaitNothing {
		return true
	}
	return r.Run != nil && !r.Run.Terminal()
}
