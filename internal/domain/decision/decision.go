// Package decision defines the classification result for one utterance and
// the helpers used to recognize it while it is still streaming.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// Mode tags which variant a Decision carries.
type Mode string

const (
	ModeReply           Mode = "reply"
	ModeConfirmedAction Mode = "confirmed_action"
	ModeDraftAction     Mode = "draft_action"
)

// Modes lists every mode in a stable order.
var Modes = []Mode{ModeReply, ModeConfirmedAction, ModeDraftAction}

// Risk is the engine's estimate of how dangerous an action is.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Status records whether an action may execute without further input.
type Status string

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
)

// ErrConfirmedWithMissing is returned for a confirmed action that still lacks parameters.
var ErrConfirmedWithMissing = errors.New("confirmed action has missing parameters")

// Reply is a plain conversational answer.
type Reply struct {
	Message string
}

// Action is a catalog automation selected by the engine.
type Action struct {
	AutomationID string
	Name         string
	Commands     []string
	Parameters   map[string]string
	Preflight    []preflight.Spec
}

// Draft is an AI-authored script suggestion that always needs review.
type Draft struct {
	Summary   string
	Script    string
	Commands  []string
	Preflight []preflight.Spec
}

// Decision is immutable once finalized. Changes produce a new Decision with
// a higher Revision.
type Decision struct {
	Mode              Mode
	CorrelationID     string
	Risk              Risk
	Status            Status
	Reply             *Reply
	Action            *Action
	Draft             *Draft
	MissingParameters []ParameterDescriptor
	Revision          int
	FinalizedAt       time.Time
}

// wire is the flat JSON shape produced by the engine and stored in snapshots.
type wire struct {
	Mode              Mode                  `json:"mode"`
	CorrelationID     string                `json:"correlation_id,omitempty"`
	Risk              Risk                  `json:"risk,omitempty"`
	Status            Status                `json:"status,omitempty"`
	Message           string                `json:"message,omitempty"`
	AutomationID      string                `json:"automation_id,omitempty"`
	Name              string                `json:"name,omitempty"`
	Summary           string                `json:"summary,omitempty"`
	Script            string                `json:"script,omitempty"`
	Commands          []string              `json:"commands,omitempty"`
	Parameters        map[string]string     `json:"parameters,omitempty"`
	Preflight         []preflight.Spec      `json:"preflight,omitempty"`
	MissingParameters []ParameterDescriptor `json:"missing_parameters,omitempty"`
	Revision          int                   `json:"revision,omitempty"`
	FinalizedAt       *time.Time            `json:"finalized_at,omitempty"`
}

// Parse decodes an engine decision object and fills defaults. It checks the
// mode-specific required fields but not the confirmation invariant; see Validate.
func Parse(raw []byte, correlationID string) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if correlationID != "" {
		d.CorrelationID = correlationID
	}
	d.applyDefaults()
	if err := d.checkShape(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseInferred is Parse for an object whose mode was inferred from its
// shape. An explicit mode in raw takes precedence over inferred.
func ParseInferred(raw []byte, correlationID string, inferred Mode) (*Decision, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if m, ok := fields["mode"]; !ok || string(m) == `""` || string(m) == "null" {
		enc, err := json.Marshal(inferred)
		if err != nil {
			return nil, err
		}
		fields["mode"] = enc
		if raw, err = json.Marshal(fields); err != nil {
			return nil, err
		}
	}
	return Parse(raw, correlationID)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}
	*d = Decision{
		Mode:              w.Mode,
		CorrelationID:     w.CorrelationID,
		Risk:              w.Risk,
		Status:            w.Status,
		MissingParameters: w.MissingParameters,
		Revision:          w.Revision,
	}
	if w.FinalizedAt != nil {
		d.FinalizedAt = *w.FinalizedAt
	}
	switch w.Mode {
	case ModeReply:
		d.Reply = &Reply{Message: w.Message}
	case ModeConfirmedAction:
		d.Action = &Action{
			AutomationID: w.AutomationID,
			Name:         w.Name,
			Commands:     w.Commands,
			Parameters:   w.Parameters,
			Preflight:    w.Preflight,
		}
	case ModeDraftAction:
		d.Draft = &Draft{
			Summary:   w.Summary,
			Script:    w.Script,
			Commands:  w.Commands,
			Preflight: w.Preflight,
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Decision) MarshalJSON() ([]byte, error) {
	w := wire{
		Mode:              d.Mode,
		CorrelationID:     d.CorrelationID,
		Risk:              d.Risk,
		Status:            d.Status,
		MissingParameters: d.MissingParameters,
		Revision:          d.Revision,
	}
	if !d.FinalizedAt.IsZero() {
		t := d.FinalizedAt
		w.FinalizedAt = &t
	}
	switch {
	case d.Reply != nil:
		w.Message = d.Reply.Message
	case d.Action != nil:
		w.AutomationID = d.Action.AutomationID
		w.Name = d.Action.Name
		w.Commands = d.Action.Commands
		w.Parameters = d.Action.Parameters
		w.Preflight = d.Action.Preflight
	case d.Draft != nil:
		w.Summary = d.Draft.Summary
		w.Script = d.Draft.Script
		w.Commands = d.Draft.Commands
		w.Preflight = d.Draft.Preflight
	}
	return json.Marshal(w)
}

func (d *Decision) applyDefaults() {
	if d.Risk == "" {
		d.Risk = RiskLow
		if d.Mode != ModeReply {
			d.Risk = RiskMedium
		}
	}
	switch d.Mode {
	case ModeConfirmedAction:
		if d.Status == "" {
			d.Status = StatusConfirmed
			if len(d.MissingParameters) > 0 {
				d.Status = StatusUnconfirmed
			}
		}
	case ModeDraftAction:
		d.Status = StatusUnconfirmed
	case ModeReply:
		d.Status = ""
	}
}

func (d *Decision) checkShape() error {
	switch d.Mode {
	case ModeReply:
		if d.Reply == nil || d.Reply.Message == "" {
			return fmt.Errorf("reply without message: %w", domain.ErrValidation)
		}
	case ModeConfirmedAction:
		if d.Action == nil || d.Action.AutomationID == "" {
			return fmt.Errorf("confirmed_action without automation_id: %w", domain.ErrValidation)
		}
	case ModeDraftAction:
		if d.Draft == nil || d.Draft.Script == "" {
			return fmt.Errorf("draft_action without script: %w", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown mode %q: %w", d.Mode, domain.ErrValidation)
	}
	switch d.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("unknown risk %q: %w", d.Risk, domain.ErrValidation)
	}
	if len(d.MissingParameters) > 0 && d.Mode != ModeConfirmedAction {
		return fmt.Errorf("%s cannot declare missing parameters: %w", d.Mode, domain.ErrValidation)
	}
	for i := range d.MissingParameters {
		if d.MissingParameters[i].Key == "" {
			return fmt.Errorf("missing parameter %d has no key: %w", i, domain.ErrValidation)
		}
	}
	return nil
}

// Validate checks the shape and that a confirmed action carries no missing parameters.
func (d *Decision) Validate() error {
	if err := d.checkShape(); err != nil {
		return err
	}
	if d.Mode == ModeConfirmedAction && d.Status == StatusConfirmed && len(d.MissingParameters) > 0 {
		return ErrConfirmedWithMissing
	}
	return nil
}

// Executable reports whether the decision leads to an execution.
func (d *Decision) Executable() bool {
	return d.Mode == ModeConfirmedAction || d.Mode == ModeDraftAction
}

// Commands returns the command list to evaluate against policy.
func (d *Decision) Commands() []string {
	switch {
	case d.Action != nil:
		return d.Action.Commands
	case d.Draft != nil:
		return d.Draft.Commands
	}
	return nil
}

// Preflight returns the readiness checks declared for the decision.
func (d *Decision) Preflight() []preflight.Spec {
	switch {
	case d.Action != nil:
		return d.Action.Preflight
	case d.Draft != nil:
		return d.Draft.Preflight
	}
	return nil
}

// NeedsValidation reports whether preflight checks must pass before execution.
func (d *Decision) NeedsValidation() bool {
	return d.Executable() && len(d.Preflight()) > 0
}

// Confirmed reports whether the decision may execute without a confirmation step.
func (d *Decision) Confirmed() bool {
	return d.Status == StatusConfirmed
}

// Clone returns a deep copy.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	cp := *d
	cp.MissingParameters = append([]ParameterDescriptor(nil), d.MissingParameters...)
	if d.Reply != nil {
		r := *d.Reply
		cp.Reply = &r
	}
	if d.Action != nil {
		a := *d.Action
		a.Commands = append([]string(nil), d.Action.Commands...)
		a.Parameters = maps.Clone(d.Action.Parameters)
		a.Preflight = append([]preflight.Spec(nil), d.Action.Preflight...)
		cp.Action = &a
	}
	if d.Draft != nil {
		dr := *d.Draft
		dr.Commands = append([]string(nil), d.Draft.Commands...)
		dr.Preflight = append([]preflight.Spec(nil), d.Draft.Preflight...)
		cp.Draft = &dr
	}
	return &cp
}

// WithParameters supersedes an action with the given parameter values filled
// in, no missing parameters and status confirmed.
func (d *Decision) WithParameters(values map[string]string, now time.Time) (*Decision, error) {
	if d.Action == nil {
		return nil, fmt.Errorf("mode %s takes no parameters: %w", d.Mode, domain.ErrValidation)
	}
	next := d.Clone()
	if next.Action.Parameters == nil {
		next.Action.Parameters = make(map[string]string, len(values))
	}
	maps.Copy(next.Action.Parameters, values)
	next.MissingParameters = nil
	next.Status = StatusConfirmed
	next.Revision++
	next.FinalizedAt = now
	return next, nil
}

// RequireConfirmation supersedes the decision with status unconfirmed.
func (d *Decision) RequireConfirmation(now time.Time) *Decision {
	next := d.Clone()
	next.Status = StatusUnconfirmed
	next.Revision++
	next.FinalizedAt = now
	return next
}

// Confirm supersedes the decision with status confirmed.
func (d *Decision) Confirm(now time.Time) (*Decision, error) {
	if !d.Executable() {
		return nil, fmt.Errorf("mode %s cannot be confirmed: %w", d.Mode, domain.ErrValidation)
	}
	if len(d.MissingParameters) > 0 {
		return nil, ErrConfirmedWithMissing
	}
	next := d.Clone()
	next.Status = StatusConfirmed
	next.Revision++
	next.FinalizedAt = now
	return next, nil
}
