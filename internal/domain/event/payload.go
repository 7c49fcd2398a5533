package event

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// DecisionRequest is the payload of decision.request.
type DecisionRequest struct {
	Utterance  string              `json:"utterance"`
	Context    map[string]any      `json:"context,omitempty"`
	TargetOS   string              `json:"target_os,omitempty"`
	Candidates []catalog.Candidate `json:"candidates,omitempty"`
}

// TokenPayload is one streamed fragment. Engines send either the new Delta or
// the full accumulated Text; Text wins when both are set.
type TokenPayload struct {
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
}

// CandidatesPayload is the payload of decision.candidates_found.
type CandidatesPayload struct {
	Candidates []catalog.Candidate `json:"candidates"`
}

// SelectedPayload carries the final decision object as produced by the engine.
type SelectedPayload struct {
	Decision json.RawMessage `json:"decision"`
}

// ErrorPayload is the payload of decision.error.
type ErrorPayload struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"` // "quota", "usage" or empty
}

// ValidationDonePayload is the payload of validation.done.
type ValidationDonePayload struct {
	OK bool `json:"ok"`
}

// ExecutionStartRequest is the payload of execution.start.
type ExecutionStartRequest struct {
	RunID        string            `json:"run_id"`
	TargetID     string            `json:"target_id"`
	AutomationID string            `json:"automation_id,omitempty"`
	Commands     []string          `json:"commands"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Script       string            `json:"script,omitempty"`
}

// ExecutionCancelRequest is the payload of execution.cancel.
type ExecutionCancelRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// ProgressPayload is the payload of execution.progress.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
}

// StdoutPayload is the payload of execution.stdout_line.
type StdoutPayload struct {
	Line string `json:"line"`
}

// FinishedPayload is the payload of execution.finished.
type FinishedPayload struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Duration returns the reported run duration.
func (p *FinishedPayload) Duration() time.Duration {
	return time.Duration(p.DurationMS) * time.Millisecond
}

// ExecErrorPayload is the payload of execution.error and execution.timeout.
type ExecErrorPayload struct {
	Reason string `json:"reason"`
}

// CheckPayload is the payload of validation.check.
type CheckPayload = preflight.Check
