package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
	"github.com/Strob0t/OpsPilot/internal/domain/target"
)

func newLocalMonitor(t *testing.T, targets *fakeTargets, stall time.Duration) *ValidationMonitor {
	t.Helper()
	r, _ := wire(t, nil)
	engine, err := NewLocalPreflightEngine(r, targets, 2)
	if err != nil {
		t.Fatalf("NewLocalPreflightEngine: %v", err)
	}
	return NewValidationMonitor(r, engine, stall, nil)
}

func TestValidation_FailingCheckKeepsFullReport(t *testing.T) {
	m := newLocalMonitor(t, &fakeTargets{snaps: map[string]*target.Snapshot{"web-1": healthyHost()}}, time.Second)
	rec := &recorder{}
	d := actionWith(
		preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 10}},
		preflight.Spec{Kind: preflight.KindMaxCPU, Params: map[string]any{"max_percent": 90}},
		preflight.Spec{Kind: preflight.KindHeartbeat, Params: map[string]any{"max_age_seconds": 60}},
	)

	report, err := m.Run(testCtx(t), "c1", "web-1", d, rec.observe)
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || ve.Timeout {
		t.Fatalf("err = %v, want failed ValidationError", err)
	}
	if report.OverallOK || report.Status != preflight.ReportFailed {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("report has %d checks, want 3", len(report.Checks))
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "min_disk" {
		t.Fatalf("failed = %+v", failed)
	}
	if msg := failed[0].Message; !strings.Contains(msg, "need_gb=10") || !strings.Contains(msg, "have_gb=4") {
		t.Fatalf("message %q does not carry both numbers", msg)
	}
	if rec.count(event.TopicValidationCheck) != 3 || rec.count(event.TopicValidationDone) != 1 {
		t.Fatalf("topics = %v", rec.topics())
	}
	if rec.topics()[0] != event.TopicValidationStarted {
		t.Fatalf("first topic = %s", rec.topics()[0])
	}
}

func TestValidation_AllPass(t *testing.T) {
	m := newLocalMonitor(t, &fakeTargets{snaps: map[string]*target.Snapshot{"web-1": healthyHost()}}, time.Second)
	d := actionWith(preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 2}})

	report, err := m.Run(testCtx(t), "c1", "web-1", d, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OverallOK || report.CompletedAt == nil {
		t.Fatalf("report = %+v", report)
	}
}

type idleEngine struct{ started int }

func (e *idleEngine) Start(context.Context, preflight.Request) error {
	e.started++
	return nil
}

func TestValidation_NoChecksPassWithoutEngine(t *testing.T) {
	engine := &idleEngine{}
	m := NewValidationMonitor(NewRouter(16, 16, nil), engine, time.Second, nil)
	rec := &recorder{}

	report, err := m.Run(testCtx(t), "c1", "web-1", actionWith(), rec.observe)
	if err != nil || !report.OverallOK {
		t.Fatalf("Run = %+v, %v", report, err)
	}
	if engine.started != 0 {
		t.Fatal("engine should not be started without checks")
	}
	equalTopics(t, rec.topics(), event.TopicValidationStarted, event.TopicValidationDone)
}

func TestValidation_StallTimeout(t *testing.T) {
	r := NewRouter(16, 16, nil)
	m := NewValidationMonitor(r, &idleEngine{}, 30*time.Millisecond, nil)
	rec := &recorder{}
	d := actionWith(preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}})

	report, err := m.Run(testCtx(t), "c1", "web-1", d, rec.observe)
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || !ve.Timeout {
		t.Fatalf("err = %v, want timeout ValidationError", err)
	}
	if report.OverallOK || report.Status != preflight.ReportTimeout {
		t.Fatalf("report = %+v", report)
	}
	if rec.count(event.TopicValidationTimeout) != 1 || rec.count(event.TopicValidationDone) != 0 {
		t.Fatalf("topics = %v", rec.topics())
	}

	// Late results find no listener and leave the frozen report alone.
	late, _ := event.New(event.TopicValidationCheck, "c1", preflight.Check{Name: "min_disk", Status: preflight.StatusPass})
	r.Publish(context.Background(), &late)
	if report.Checks[0].Status != preflight.StatusFail {
		t.Fatal("late result changed a frozen report")
	}
}

func TestValidation_StallTimerResetsPerCheck(t *testing.T) {
	r := NewRouter(16, 16, nil)
	engine := engineFunc(func(ctx context.Context, req preflight.Request) error {
		go func() {
			for _, spec := range req.Checks {
				time.Sleep(60 * time.Millisecond)
				e, _ := event.New(event.TopicValidationCheck, req.CorrelationID,
					preflight.Check{Name: spec.CheckName(), Status: preflight.StatusPass})
				r.Publish(ctx, &e)
			}
		}()
		return nil
	})
	m := NewValidationMonitor(r, engine, 150*time.Millisecond, nil)
	d := actionWith(
		preflight.Spec{Name: "a", Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}},
		preflight.Spec{Name: "b", Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}},
		preflight.Spec{Name: "c", Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}},
	)

	report, err := m.Run(testCtx(t), "c1", "web-1", d, nil)
	if err != nil || !report.OverallOK {
		t.Fatalf("Run = %+v, %v; stall timer should reset after every result", report, err)
	}
}

type engineFunc func(ctx context.Context, req preflight.Request) error

func (f engineFunc) Start(ctx context.Context, req preflight.Request) error { return f(ctx, req) }

func TestValidation_RemoteEngineAggregates(t *testing.T) {
	r, ch := wire(t, scriptOn(event.TopicValidationRequest,
		step{event.TopicValidationCheck, preflight.Check{Name: "min_disk", Status: preflight.StatusPass}},
		step{event.TopicValidationCheck, preflight.Check{Name: "heartbeat", Status: preflight.StatusFail, Message: "stale"}},
		step{event.TopicValidationDone, event.ValidationDonePayload{OK: true}},
	))
	m := NewValidationMonitor(r, NewRemotePreflightEngine(ch), time.Second, nil)
	d := actionWith(
		preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}},
		preflight.Spec{Kind: preflight.KindHeartbeat, Params: map[string]any{"max_age_seconds": 60}},
	)

	report, err := m.Run(testCtx(t), "c1", "web-1", d, nil)
	if err == nil || report.OverallOK {
		t.Fatalf("Run = %+v, %v; one failed check must fail the report", report, err)
	}
	sent := ch.Sent()
	if len(sent) != 1 || sent[0].Topic != event.TopicValidationRequest {
		t.Fatalf("sent = %+v", sent)
	}
	var req preflight.Request
	_ = sent[0].DecodePayload(&req)
	if req.TargetID != "web-1" || len(req.Checks) != 2 {
		t.Fatalf("request = %+v", req)
	}
}

func TestValidation_SnapshotErrorFailsEveryCheck(t *testing.T) {
	m := newLocalMonitor(t, &fakeTargets{err: errors.New("agent offline")}, time.Second)
	d := actionWith(
		preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}},
		preflight.Spec{Kind: preflight.KindMinUptime, Params: map[string]any{"min_seconds": 60}},
	)

	report, err := m.Run(testCtx(t), "c1", "web-1", d, nil)
	if err == nil {
		t.Fatal("expected ValidationError")
	}
	for _, c := range report.Checks {
		if c.Status != preflight.StatusFail || !strings.Contains(c.Message, "agent offline") {
			t.Fatalf("check = %+v", c)
		}
	}
}

func TestValidation_EngineStartError(t *testing.T) {
	m := NewValidationMonitor(NewRouter(16, 16, nil),
		engineFunc(func(context.Context, preflight.Request) error { return errors.New("down") }),
		time.Second, nil)
	d := actionWith(preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}})

	report, err := m.Run(testCtx(t), "c1", "web-1", d, nil)
	if err == nil || report.Status != preflight.ReportFailed {
		t.Fatalf("Run = %+v, %v", report, err)
	}
	if !strings.Contains(report.Checks[0].Message, "down") {
		t.Fatalf("message = %q", report.Checks[0].Message)
	}
}
