package service

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
)

func selected(t *testing.T, cid, raw string) *event.Envelope {
	t.Helper()
	e, err := event.New(event.TopicDecisionSelected, cid, event.SelectedPayload{Decision: json.RawMessage(raw)})
	if err != nil {
		t.Fatal(err)
	}
	return &e
}

func observeAll(t *testing.T, tr *PhaseTracker, cid string, events ...*event.Envelope) []phase.Phase {
	t.Helper()
	out := []phase.Phase{phase.Idle}
	for _, e := range events {
		if s, changed := tr.Observe(e); changed {
			out = append(out, s.Phase)
		}
	}
	return out
}

func mustEvent(t *testing.T, topic event.Topic, cid string, payload any) *event.Envelope {
	t.Helper()
	e, err := event.New(topic, cid, payload)
	if err != nil {
		t.Fatal(err)
	}
	return &e
}

func equalPhases(t *testing.T, got []phase.Phase, want ...phase.Phase) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func TestPhaseTracker_DiskCheckSequence(t *testing.T) {
	tr := NewPhaseTracker()
	got := observeAll(t, tr, "c1",
		mustEvent(t, event.TopicDecisionStart, "c1", nil),
		selected(t, "c1", `{"mode":"confirmed_action","automation_id":"disk-check","commands":["df -h"]}`),
		mustEvent(t, event.TopicExecutionStarted, "c1", nil),
		mustEvent(t, event.TopicExecutionProgress, "c1", event.ProgressPayload{Percent: 50}),
		mustEvent(t, event.TopicExecutionFinished, "c1", event.FinishedPayload{Success: true}),
	)
	equalPhases(t, got, phase.Idle, phase.Planning, phase.Ready, phase.Working, phase.Completed)
}

func TestPhaseTracker_ValidationGatesReady(t *testing.T) {
	tr := NewPhaseTracker()
	raw := `{"mode":"confirmed_action","automation_id":"disk-check","commands":["df -h"],"preflight":[{"kind":"min_disk","params":{"need_gb":10}}]}`
	got := observeAll(t, tr, "c1",
		mustEvent(t, event.TopicDecisionStart, "c1", nil),
		mustEvent(t, event.TopicDecisionCandidates, "c1", event.CandidatesPayload{}),
		selected(t, "c1", raw),
		mustEvent(t, event.TopicValidationDone, "c1", event.ValidationDonePayload{OK: false}),
	)
	equalPhases(t, got, phase.Idle, phase.Planning, phase.Analyzing, phase.Failed)
}

func TestPhaseTracker_ReplySettles(t *testing.T) {
	tr := NewPhaseTracker()
	observeAll(t, tr, "c1",
		mustEvent(t, event.TopicDecisionStart, "c1", nil),
		selected(t, "c1", `{"mode":"reply","message":"hello"}`),
	)
	s, _ := tr.Get("c1")
	if s.Phase != phase.Idle || !s.Settled {
		t.Fatalf("state = %+v", s)
	}
	if _, changed := tr.Observe(mustEvent(t, event.TopicExecutionStarted, "c1", nil)); changed {
		t.Fatal("settled instance accepted a signal")
	}
}

func TestPhaseTracker_IndependentIDs(t *testing.T) {
	tr := NewPhaseTracker()
	var wg sync.WaitGroup
	for _, cid := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Observe(mustEvent(t, event.TopicDecisionStart, cid, nil))
			if cid == "b" {
				tr.Observe(mustEvent(t, event.TopicDecisionError, cid, event.ErrorPayload{Reason: "x"}))
			}
		}()
	}
	wg.Wait()

	for _, cid := range []string{"a", "c", "d"} {
		if s, _ := tr.Get(cid); s.Phase != phase.Planning {
			t.Fatalf("%s phase = %s", cid, s.Phase)
		}
	}
	if s, _ := tr.Get("b"); s.Phase != phase.Failed {
		t.Fatalf("b phase = %s", s.Phase)
	}

	tr.Forget("a")
	if _, ok := tr.Get("a"); ok || tr.Len() != 3 {
		t.Fatal("Forget did not drop the instance")
	}
}

func TestSignalOf_UndecodableSelected(t *testing.T) {
	sig := SignalOf(selected(t, "c1", `{"mode":"bogus"}`))
	if sig.Topic != event.TopicDecisionSelected || sig.Mode != "" {
		t.Fatalf("signal = %+v", sig)
	}
}

type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestSignalOf_UndecodablePayloadIsLogged(t *testing.T) {
	logs := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		topic event.Topic
		raw   string
	}{
		{event.TopicValidationDone, `{"ok":"yes"}`},
		{event.TopicExecutionFinished, `{"success":1}`},
	}
	for _, tt := range tests {
		e := &event.Envelope{Topic: tt.topic, CorrelationID: "c1", Timestamp: event.Stamp(), Payload: json.RawMessage(tt.raw)}
		if sig := SignalOf(e); sig.OK || sig.Success {
			t.Fatalf("%s: signal = %+v, want failure", tt.topic, sig)
		}
		if !strings.Contains(logs.String(), "topic="+string(tt.topic)) {
			t.Fatalf("%s: decode error not logged: %s", tt.topic, logs.String())
		}
	}
}
