// Package preflight defines declarative readiness checks and the report
// that aggregates their results before an automation is executed.
package preflight

import (
	"fmt"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain"
)

// Kind identifies a built-in check evaluator.
type Kind string

const (
	KindMinDisk     Kind = "min_disk"
	KindMaxCPU      Kind = "max_cpu"
	KindMaxMemory   Kind = "max_memory"
	KindPortsOpen   Kind = "ports_open"
	KindPortsClosed Kind = "ports_closed"
	KindMinUptime   Kind = "min_uptime"
	KindOSMatch     Kind = "os_match"
	KindHeartbeat   Kind = "heartbeat"
	KindExpr        Kind = "expr" // custom CEL expression in params.expr
)

var validKinds = map[Kind]bool{
	KindMinDisk:     true,
	KindMaxCPU:      true,
	KindMaxMemory:   true,
	KindPortsOpen:   true,
	KindPortsClosed: true,
	KindMinUptime:   true,
	KindOSMatch:     true,
	KindHeartbeat:   true,
	KindExpr:        true,
}

// Spec declares one check an automation requires before it may run.
type Spec struct {
	Name   string         `json:"name" yaml:"name"`
	Kind   Kind           `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// CheckName returns the display name, defaulting to the kind.
func (s *Spec) CheckName() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Validate checks that s names a known check kind.
func (s *Spec) Validate() error {
	if !validKinds[s.Kind] {
		return fmt.Errorf("unknown check kind %q: %w", s.Kind, domain.ErrValidation)
	}
	return nil
}

// Status is the state of one check.
type Status string

const (
	StatusPending Status = "pending"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
)

// Check is one readiness check result.
type Check struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind,omitempty"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Request asks an engine to evaluate a set of checks against a target.
type Request struct {
	CorrelationID string `json:"correlation_id"`
	TargetID      string `json:"target_id"`
	Checks        []Spec `json:"checks"`
}

// ReportStatus is the lifecycle state of a Report.
type ReportStatus string

const (
	ReportRunning ReportStatus = "running"
	ReportPassed  ReportStatus = "passed"
	ReportFailed  ReportStatus = "failed"
	ReportTimeout ReportStatus = "timeout"
)

// Report aggregates check results for one correlation id. It is mutated in
// place while checks stream in and frozen on completion or timeout.
type Report struct {
	CorrelationID string       `json:"correlation_id"`
	Checks        []Check      `json:"checks"`
	OverallOK     bool         `json:"overall_ok"`
	Status        ReportStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// NewReport creates a running report with one pending check per spec.
func NewReport(correlationID string, specs []Spec, now time.Time) *Report {
	r := &Report{
		CorrelationID: correlationID,
		Checks:        make([]Check, 0, len(specs)),
		Status:        ReportRunning,
		StartedAt:     now,
	}
	for i := range specs {
		r.Checks = append(r.Checks, Check{
			Name:   specs[i].CheckName(),
			Kind:   specs[i].Kind,
			Status: StatusPending,
		})
	}
	return r
}

// Frozen reports whether the report no longer accepts results.
func (r *Report) Frozen() bool {
	return r.Status != ReportRunning
}

// Record stores a check result. Results for names not declared at start are
// appended. Returns false when the report is frozen or the result is pending.
func (r *Report) Record(c Check) bool {
	if r.Frozen() || c.Status == StatusPending {
		return false
	}
	slot := -1
	for i := range r.Checks {
		if r.Checks[i].Name != c.Name {
			continue
		}
		if slot < 0 {
			slot = i
		}
		// Repeated names resolve in declaration order.
		if r.Checks[i].Status == StatusPending {
			slot = i
			break
		}
	}
	if slot < 0 {
		r.Checks = append(r.Checks, c)
		return true
	}
	if c.Kind == "" {
		c.Kind = r.Checks[slot].Kind
	}
	r.Checks[slot] = c
	return true
}

// Resolved reports whether every check has left the pending state.
func (r *Report) Resolved() bool {
	for i := range r.Checks {
		if r.Checks[i].Status == StatusPending {
			return false
		}
	}
	return true
}

// Finalize freezes the report. Checks still pending are marked failed.
// OverallOK is the conjunction of all check results.
func (r *Report) Finalize(now time.Time) {
	if r.Frozen() {
		return
	}
	r.failPending("no result reported")
	r.OverallOK = true
	for i := range r.Checks {
		if r.Checks[i].Status != StatusPass {
			r.OverallOK = false
		}
	}
	r.Status = ReportPassed
	if !r.OverallOK {
		r.Status = ReportFailed
	}
	r.CompletedAt = &now
}

// Timeout freezes the report as timed out with OverallOK=false.
func (r *Report) Timeout(now time.Time) {
	if r.Frozen() {
		return
	}
	r.failPending("timed out waiting for result")
	r.OverallOK = false
	r.Status = ReportTimeout
	r.CompletedAt = &now
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for i := range r.Checks {
		if r.Checks[i].Status != StatusPass {
			out = append(out, r.Checks[i])
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Checks = append([]Check(nil), r.Checks...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (r *Report) failPending(msg string) {
	for i := range r.Checks {
		if r.Checks[i].Status == StatusPending {
			r.Checks[i].Status = StatusFail
			r.Checks[i].Message = msg
		}
	}
}
