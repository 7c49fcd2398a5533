package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
)

// Resolution is the outcome of resolving a decision. Exactly one of Ready,
// NeedsInput or Err is set.
type Resolution struct {
	Ready      *decision.Decision
	NeedsInput []decision.ParameterDescriptor
	// Pending is the decision the form belongs to. It is never confirmed.
	Pending *decision.Decision
	// Err reports missing parameters that no submission could supply.
	Err error
}

// ParameterResolver detects incomplete decisions and completes them from
// user-supplied values. It never calls the decision engine.
type ParameterResolver struct {
	now func() time.Time
}

// NewParameterResolver creates a ParameterResolver.
func NewParameterResolver() *ParameterResolver {
	return &ParameterResolver{now: time.Now}
}

// Resolve returns d as ready when nothing is missing. Otherwise it returns
// the missing parameter descriptors with defaults prefilled from the values
// the decision already carries and from known, the conversation context.
// A confirmed action that still lacks parameters is downgraded to
// unconfirmed.
func (r *ParameterResolver) Resolve(d *decision.Decision, known map[string]any) Resolution {
	if len(d.MissingParameters) == 0 {
		return Resolution{Ready: d}
	}
	if d.Action == nil {
		return Resolution{Err: &pipeline.ClassificationError{
			Kind:   pipeline.ClassificationInvalid,
			Reason: fmt.Sprintf("%s decision declares missing parameters but takes none", d.Mode),
		}}
	}

	pending := d
	if d.Confirmed() {
		pending = d.RequireConfirmation(r.now())
	}

	descs := make([]decision.ParameterDescriptor, len(d.MissingParameters))
	for i, p := range d.MissingParameters {
		if v, ok := r.lookup(d, known, p.Key); ok {
			p.Default = v
		}
		descs[i] = p
	}
	return Resolution{NeedsInput: descs, Pending: pending}
}

func (r *ParameterResolver) lookup(d *decision.Decision, known map[string]any, key string) (string, bool) {
	if d.Action != nil {
		if v := strings.TrimSpace(d.Action.Parameters[key]); v != "" {
			return v, true
		}
	}
	switch v := known[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s, true
		}
	case bool, int, int64, float64:
		return fmt.Sprint(v), true
	}
	return "", false
}

// Submit validates values against the parameters d is missing and returns a
// new confirmed decision with them filled in. Blank values fall back to the
// descriptor default. On any invalid field nothing is applied and a
// *pipeline.ParameterValidationError maps each offending key to a message.
func (r *ParameterResolver) Submit(d *decision.Decision, params []decision.ParameterDescriptor, values map[string]string) (*decision.Decision, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("decision is not awaiting parameters: %w", domain.ErrValidation)
	}

	accepted := make(map[string]string, len(params))
	fields := make(map[string]string)
	for i := range params {
		p := &params[i]
		v := strings.TrimSpace(values[p.Key])
		if v == "" {
			v = p.Default
		}
		if msg := p.Check(v); msg != "" {
			fields[p.Key] = msg
			continue
		}
		if v != "" {
			accepted[p.Key] = v
		}
	}
	if len(fields) > 0 {
		return nil, &pipeline.ParameterValidationError{Fields: fields}
	}
	return d.WithParameters(accepted, r.now())
}
