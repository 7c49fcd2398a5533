// Package execution models one remote run of an automation and folds the
// engine's lifecycle events into it.
package execution

import (
	"fmt"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reasons attached to failed runs.
const (
	ReasonStalled   = "stalled"
	ReasonTimeout   = "timeout"
	ReasonError     = "error"
	ReasonExitCode  = "exit_code"
	ReasonCancelled = "cancelled"
)

// DefaultOutputLines is the number of stdout lines retained per run.
const DefaultOutputLines = 20

// Run is the state of one execution. Terminal states are sticky.
type Run struct {
	ID            string        `json:"run_id"`
	CorrelationID string        `json:"correlation_id"`
	Status        Status        `json:"status"`
	ProgressPct   float64       `json:"progress_pct"`
	Output        *OutputBuffer `json:"output_lines"`
	ExitCode      int           `json:"exit_code,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	LastEventAt   time.Time     `json:"last_event_at"`
}

// NewRun creates a queued run retaining at most outputLines stdout lines.
func NewRun(id, correlationID string, outputLines int, now time.Time) *Run {
	return &Run{
		ID:            id,
		CorrelationID: correlationID,
		Status:        StatusQueued,
		Output:        NewOutputBuffer(outputLines),
		QueuedAt:      now,
		LastEventAt:   now,
	}
}

// Terminal reports whether the run reached completed or failed.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Live reports whether the run is in the state the idle timeout applies to.
func (r *Run) Live() bool {
	return r.Status == StatusRunning
}

// IdleFor returns how long ago the last event arrived.
func (r *Run) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastEventAt)
}

// Apply folds one execution event into the run. It returns false when the
// event changed nothing, which is always the case once the run is terminal.
func (r *Run) Apply(e *event.Envelope, now time.Time) (bool, error) {
	if r.Terminal() {
		return false, nil
	}

	switch e.Topic {
	case event.TopicExecutionQueued:
		if r.Status != StatusQueued {
			return false, nil
		}
	case event.TopicExecutionStarted:
		r.start(now)
	case event.TopicExecutionProgress:
		var p event.ProgressPayload
		if err := e.DecodePayload(&p); err != nil {
			return false, err
		}
		r.start(now)
		r.ProgressPct = clamp(p.Percent)
	case event.TopicExecutionStdout:
		var p event.StdoutPayload
		if err := e.DecodePayload(&p); err != nil {
			return false, err
		}
		r.Output.Push(p.Line)
	case event.TopicExecutionFinished:
		var p event.FinishedPayload
		if err := e.DecodePayload(&p); err != nil {
			return false, err
		}
		r.ExitCode = p.ExitCode
		if p.Success {
			r.ProgressPct = 100
			r.finish(StatusCompleted, "", "", p.Duration(), now)
		} else {
			msg := p.Error
			if msg == "" {
				msg = fmt.Sprintf("exited with code %d", p.ExitCode)
			}
			r.finish(StatusFailed, ReasonExitCode, msg, p.Duration(), now)
		}
	case event.TopicExecutionError:
		var p event.ExecErrorPayload
		if err := e.DecodePayload(&p); err != nil {
			return false, err
		}
		r.finish(StatusFailed, ReasonError, p.Reason, 0, now)
	case event.TopicExecutionTimeout:
		var p event.ExecErrorPayload
		if err := e.DecodePayload(&p); err != nil {
			return false, err
		}
		msg := p.Reason
		if msg == "" {
			msg = "execution timed out"
		}
		r.finish(StatusFailed, ReasonTimeout, msg, 0, now)
	default:
		return false, nil
	}
	r.LastEventAt = now
	return true, nil
}

// Stall fails a running run that has been idle for too long.
func (r *Run) Stall(idle time.Duration, now time.Time) bool {
	if !r.Live() {
		return false
	}
	r.finish(StatusFailed, ReasonStalled, fmt.Sprintf("no execution event for %s", idle.Round(time.Second)), 0, now)
	return true
}

// Cancel fails a non-terminal run on user request.
func (r *Run) Cancel(now time.Time) bool {
	if r.Terminal() {
		return false
	}
	r.finish(StatusFailed, ReasonCancelled, "cancelled by user", 0, now)
	return true
}

func (r *Run) start(now time.Time) {
	if r.Status == StatusQueued {
		r.Status = StatusRunning
		t := now
		r.StartedAt = &t
	}
}

func (r *Run) finish(status Status, reason, msg string, d time.Duration, now time.Time) {
	r.Status = status
	r.Reason = reason
	r.Error = msg
	t := now
	r.FinishedAt = &t
	switch {
	case d > 0:
		r.Duration = d
	case r.StartedAt != nil:
		r.Duration = now.Sub(*r.StartedAt)
	}
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Output = r.Output.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func clamp(p float64) float64 {
	switch {
	case p != p, p < 0: // NaN or negative
		return 0
	case p > 100:
		return 100
	}
	return p
}
