// Package pipeline defines the failure taxonomy of a pipeline run and the
// snapshot record written for crash recovery.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// ClassificationKind distinguishes retryable engine failures from quota
// exhaustion and unusable output.
type ClassificationKind string

const (
	ClassificationTransient ClassificationKind = "transient"
	ClassificationQuota     ClassificationKind = "quota"
	ClassificationInvalid   ClassificationKind = "invalid"
)

// ClassificationError is a decision engine failure.
type ClassificationError struct {
	Kind   ClassificationKind
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("classification %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("classification %s: %s", e.Kind, e.Reason)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ValidationError carries the frozen report of a failed or timed-out preflight.
type ValidationError struct {
	Timeout bool
	Report  *preflight.Report
}

func (e *ValidationError) Error() string {
	if e.Timeout {
		return "validation timed out"
	}
	names := make([]string, 0)
	if e.Report != nil {
		for _, c := range e.Report.Failed() {
			names = append(names, c.Name)
		}
	}
	return "validation failed: " + strings.Join(names, ", ")
}

// ExecutionError is a failed or stalled run with its last known output.
type ExecutionError struct {
	RunID      string
	Stalled    bool
	Reason     string
	LastOutput []string
}

func (e *ExecutionError) Error() string {
	if e.Stalled {
		return fmt.Sprintf("execution %s stalled", e.RunID)
	}
	return fmt.Sprintf("execution %s failed: %s", e.RunID, e.Reason)
}

// ParameterValidationError maps parameter keys to messages. It is produced
// locally and never reaches an engine.
type ParameterValidationError struct {
	Fields map[string]string
}

func (e *ParameterValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// PolicyError is returned when policy forbids a command.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	return "forbidden by policy: " + strings.Join(e.Reasons, "; ")
}

// ErrCancelled marks a pipeline cancelled by the user.
var ErrCancelled = errors.New("cancelled")

// Category groups failures for the caller.
type Category string

const (
	CategoryClassification Category = "classification"
	CategoryValidation     Category = "validation"
	CategoryExecution      Category = "execution"
	CategoryParameters     Category = "parameters"
	CategoryPolicy         Category = "policy"
	CategoryCancelled      Category = "cancelled"
	CategoryInternal       Category = "internal"
)

// Failure is the structured payload attached to a failed phase.
type Failure struct {
	Category   Category          `json:"category"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Checks     []preflight.Check `json:"checks,omitempty"`
	LastOutput []string          `json:"last_output,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Reasons    []string          `json:"reasons,omitempty"`
}

// FailureFrom converts an error from any stage into a Failure.
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}

	var (
		ce *ClassificationError
		ve *ValidationError
		ee *ExecutionError
		pe *ParameterValidationError
		po *PolicyError
	)
	switch {
	case errors.As(err, &ce):
		f := &Failure{Category: CategoryClassification, Code: string(ce.Kind), Message: ce.Error(), Retryable: Retryable(err)}
		if ce.Kind == ClassificationQuota {
			f.Message = ce.Reason
		}
		return f
	case errors.As(err, &ve):
		f := &Failure{Category: CategoryValidation, Code: "failed", Message: ve.Error(), Retryable: true}
		if ve.Timeout {
			f.Code = "timeout"
		}
		if ve.Report != nil {
			f.Checks = append([]preflight.Check(nil), ve.Report.Checks...)
		}
		return f
	case errors.As(err, &ee):
		f := &Failure{Category: CategoryExecution, Code: "failed", Message: ee.Error(), Retryable: true, LastOutput: ee.LastOutput}
		if ee.Stalled {
			f.Code = "stalled"
		}
		return f
	case errors.As(err, &pe):
		return &Failure{Category: CategoryParameters, Code: "invalid", Message: pe.Error(), Fields: pe.Fields}
	case errors.As(err, &po):
		return &Failure{Category: CategoryPolicy, Code: "forbidden", Message: po.Error(), Reasons: po.Reasons}
	case errors.Is(err, ErrCancelled):
		return &Failure{Category: CategoryCancelled, Code: "cancelled", Message: "cancelled by user", Retryable: true}
	default:
		return &Failure{Category: CategoryInternal, Code: "internal", Message: err.Error(), Retryable: true}
	}
}

// Retryable reports whether the caller may offer an automatic retry.
// Quota, policy and invalid-output failures need the user to act elsewhere.
func Retryable(err error) bool {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind == ClassificationTransient
	}
	var po *PolicyError
	if errors.As(err, &po) {
		return false
	}
	var pe *ParameterValidationError
	return !errors.As(err, &pe)
}
