package preflight

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func specs(kinds ...Kind) []Spec {
	out := make([]Spec, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Spec{Kind: k})
	}
	return out
}

func TestReport_AllChecksPresentOnFailure(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk, KindMaxCPU, KindHeartbeat), t0)

	r.Record(Check{Name: "min_disk", Status: StatusFail, Message: "insufficient disk space"})
	if r.Resolved() {
		t.Fatal("report resolved after one of three checks")
	}
	r.Record(Check{Name: "max_cpu", Status: StatusPass})
	r.Record(Check{Name: "heartbeat", Status: StatusPass})
	if !r.Resolved() {
		t.Fatal("expected report resolved")
	}
	r.Finalize(t0.Add(time.Second))

	if r.OverallOK {
		t.Error("overall_ok = true, want false")
	}
	if r.Status != ReportFailed {
		t.Errorf("status = %s, want failed", r.Status)
	}
	if len(r.Checks) != 3 {
		t.Fatalf("checks = %d, want 3", len(r.Checks))
	}
	if got := r.Failed(); len(got) != 1 || got[0].Name != "min_disk" {
		t.Errorf("failed = %+v", got)
	}
	if r.Checks[0].Kind != KindMinDisk {
		t.Errorf("kind not preserved: %q", r.Checks[0].Kind)
	}
}

func TestReport_PassWhenAllPass(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk), t0)
	r.Record(Check{Name: "min_disk", Status: StatusPass})
	r.Finalize(t0)
	if !r.OverallOK || r.Status != ReportPassed {
		t.Errorf("got ok=%v status=%s", r.OverallOK, r.Status)
	}
	if r.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestReport_EmptyIsOK(t *testing.T) {
	r := NewReport("c1", nil, t0)
	r.Finalize(t0)
	if !r.OverallOK {
		t.Error("empty report should pass")
	}
}

func TestReport_FinalizeFailsPending(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk, KindMaxCPU), t0)
	r.Record(Check{Name: "min_disk", Status: StatusPass})
	r.Finalize(t0)
	if r.OverallOK {
		t.Error("pending check must not pass")
	}
	if r.Checks[1].Status != StatusFail || r.Checks[1].Message != "no result reported" {
		t.Errorf("pending check = %+v", r.Checks[1])
	}
}

func TestReport_TimeoutFreezes(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk, KindMaxCPU), t0)
	r.Record(Check{Name: "min_disk", Status: StatusPass})
	r.Timeout(t0.Add(60 * time.Second))

	if r.Status != ReportTimeout || r.OverallOK {
		t.Fatalf("status=%s ok=%v", r.Status, r.OverallOK)
	}
	if r.Record(Check{Name: "max_cpu", Status: StatusPass}) {
		t.Error("late result accepted after timeout")
	}
	if r.Checks[1].Status != StatusFail {
		t.Errorf("late check mutated report: %+v", r.Checks[1])
	}

	r.Finalize(t0.Add(2 * time.Minute))
	if r.Status != ReportTimeout {
		t.Error("finalize overrode timeout")
	}
}

func TestReport_RecordRejectsPending(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk), t0)
	if r.Record(Check{Name: "min_disk", Status: StatusPending}) {
		t.Error("pending result accepted")
	}
}

func TestReport_RecordAppendsUnknown(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk), t0)
	r.Record(Check{Name: "kernel_version", Status: StatusPass})
	if len(r.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(r.Checks))
	}
}

func TestReport_CloneIsIndependent(t *testing.T) {
	r := NewReport("c1", specs(KindMinDisk), t0)
	cp := r.Clone()
	r.Record(Check{Name: "min_disk", Status: StatusPass})
	if cp.Checks[0].Status != StatusPending {
		t.Error("clone shares check slice")
	}
}

func TestSpec_CheckName(t *testing.T) {
	s := Spec{Kind: KindMinDisk}
	if s.CheckName() != "min_disk" {
		t.Errorf("CheckName = %q", s.CheckName())
	}
	s.Name = "root-disk"
	if s.CheckName() != "root-disk" {
		t.Errorf("CheckName = %q", s.CheckName())
	}
}

func TestReport_RepeatedNamesResolveInOrder(t *testing.T) {
	r := NewReport("c1", specs(KindPortsOpen, KindPortsOpen), t0)
	r.Record(Check{Name: "ports_open", Status: StatusPass})
	if r.Resolved() {
		t.Fatal("second ports_open check should still be pending")
	}
	r.Record(Check{Name: "ports_open", Status: StatusFail, Message: "port 443 closed"})
	if !r.Resolved() {
		t.Fatal("both checks should be resolved")
	}
	if r.Checks[0].Status != StatusPass || r.Checks[1].Status != StatusFail {
		t.Fatalf("checks = %+v", r.Checks)
	}
}
