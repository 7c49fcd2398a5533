// Package phase implements the state machine that derives the single
// observable phase of a pipeline from decision, validation and execution events.
package phase

import (
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Phase is the observable progress of one correlation id.
type Phase string

const (
	Idle      Phase = "idle"
	Planning  Phase = "planning"
	Analyzing Phase = "analyzing"
	Ready     Phase = "ready"
	Working   Phase = "working"
	Completed Phase = "completed"
	Failed    Phase = "failed"
)

var rank = map[Phase]int{
	Idle:      0,
	Planning:  1,
	Analyzing: 2,
	Ready:     3,
	Working:   4,
	Completed: 5,
	Failed:    5,
}

// Rank orders phases; completed and failed share the top rank.
func (p Phase) Rank() int {
	return rank[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed
}

// TopicCancelled is the signal for an explicit user cancel. It is produced
// locally and never travels over the channel.
const TopicCancelled event.Topic = "pipeline.cancelled"

// TopicPolicyDenied signals that policy forbade the decision's commands.
const TopicPolicyDenied event.Topic = "pipeline.policy_denied"

// TopicFailed signals a local failure that no engine event reported.
const TopicFailed event.Topic = "pipeline.failed"

// Signal is the subset of an event the state machine needs.
type Signal struct {
	Topic           event.Topic
	OK              bool          // validation.done
	Success         bool          // execution.finished
	Mode            decision.Mode // decision.selected
	NeedsValidation bool          // decision.selected
}

// State is the machine state for one correlation id. Settled marks a plain
// reply that returned to idle; such an instance accepts no further signals.
type State struct {
	Phase   Phase `json:"phase"`
	Settled bool  `json:"settled,omitempty"`
}

// Closed reports whether the instance accepts no further signals.
func (s State) Closed() bool {
	return s.Settled || s.Phase.Terminal()
}

// Next returns the state after sig. Signals that do not apply to the current
// phase leave it unchanged, so the phase never moves backwards except for the
// settle of a plain reply.
func Next(s State, sig Signal) State {
	if s.Closed() {
		return s
	}

	switch sig.Topic {
	case event.TopicDecisionStart:
		if s.Phase == Idle {
			s.Phase = Planning
		}
	case event.TopicDecisionCandidates:
		if s.Phase == Planning {
			s.Phase = Analyzing
		}
	case event.TopicDecisionSelected:
		if s.Phase != Planning && s.Phase != Analyzing {
			return s
		}
		switch {
		case sig.Mode == decision.ModeReply:
			return State{Phase: Idle, Settled: true}
		case !sig.NeedsValidation:
			s.Phase = Ready
		}
	case event.TopicValidationDone:
		if !sig.OK {
			s.Phase = Failed
		} else if s.Phase == Planning || s.Phase == Analyzing {
			s.Phase = Ready
		}
	case event.TopicExecutionStarted, event.TopicExecutionProgress:
		if s.Phase == Ready {
			s.Phase = Working
		}
	case event.TopicExecutionFinished:
		if s.Phase == Ready || s.Phase == Working {
			s.Phase = Failed
			if sig.Success {
				s.Phase = Completed
			}
		}
	case event.TopicDecisionError,
		event.TopicValidationTimeout,
		event.TopicExecutionError,
		event.TopicExecutionTimeout,
		TopicCancelled,
		TopicPolicyDenied,
		TopicFailed:
		s.Phase = Failed
	}
	return s
}
