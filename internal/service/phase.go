package service

import (
	"log/slog"
	"sync"

	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
)

// PhaseTracker holds one phase state machine per correlation id.
type PhaseTracker struct {
	mu     sync.Mutex
	states map[string]phase.State
}

// NewPhaseTracker creates an empty PhaseTracker.
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{states: make(map[string]phase.State)}
}

// Observe feeds e into the machine of its correlation id and returns the
// resulting state and whether the phase changed.
func (t *PhaseTracker) Observe(e *event.Envelope) (phase.State, bool) {
	return t.Signal(e.CorrelationID, SignalOf(e))
}

// Signal applies sig to the machine of cid. Unknown ids start at idle.
func (t *PhaseTracker) Signal(cid string, sig phase.Signal) (phase.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.states[cid]
	if prev.Phase == "" {
		prev.Phase = phase.Idle
	}
	next := phase.Next(prev, sig)
	t.states[cid] = next
	return next, next != prev
}

// Get returns the state of cid.
func (t *PhaseTracker) Get(cid string) (phase.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[cid]
	return s, ok
}

// Restore seeds the machine of cid, e.g. from a snapshot.
func (t *PhaseTracker) Restore(cid string, s phase.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[cid] = s
}

// Forget drops the machine of cid.
func (t *PhaseTracker) Forget(cid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, cid)
}

// Len returns the number of tracked correlation ids.
func (t *PhaseTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// SignalOf extracts the state machine input from an event. Payload fields
// that cannot be decoded leave their signal fields at the zero value, which
// reads as a failed check or run, and the decode error is logged.
func SignalOf(e *event.Envelope) phase.Signal {
	sig := phase.Signal{Topic: e.Topic}
	switch e.Topic {
	case event.TopicDecisionSelected:
		var p event.SelectedPayload
		if err := e.DecodePayload(&p); err != nil {
			logUndecodable(e, err)
			return sig
		}
		d, err := decision.Parse(p.Decision, e.CorrelationID)
		if err != nil {
			logUndecodable(e, err)
			return sig
		}
		sig.Mode = d.Mode
		sig.NeedsValidation = d.NeedsValidation()
	case event.TopicValidationDone:
		var p event.ValidationDonePayload
		if err := e.DecodePayload(&p); err != nil {
			logUndecodable(e, err)
		}
		sig.OK = p.OK
	case event.TopicExecutionFinished:
		var p event.FinishedPayload
		if err := e.DecodePayload(&p); err != nil {
			logUndecodable(e, err)
		}
		sig.Success = p.Success
	}
	return sig
}

func logUndecodable(e *event.Envelope, err error) {
	slog.Warn("phase signal from undecodable payload",
		"topic", e.Topic, "correlation_id", e.CorrelationID, "error", err)
}
