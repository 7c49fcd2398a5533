package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/loopback"
	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
)

func newDecisionClient(t *testing.T, grace, timeout time.Duration, responder loopback.Responder) (*DecisionClient, *Router, *loopback.Channel) {
	t.Helper()
	r, ch := wire(t, responder)
	c, err := NewDecisionClient(r, ch, config.Decision{GracePeriod: grace, StreamTimeout: timeout})
	if err != nil {
		t.Fatalf("NewDecisionClient: %v", err)
	}
	return c, r, ch
}

func tok(delta string) step {
	return step{event.TopicDecisionToken, event.TokenPayload{Delta: delta}}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClassify_ShortCircuitsOnClosedObject(t *testing.T) {
	c, _, _ := newDecisionClient(t, 10*time.Second, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		tok(`{"mode":"reply",`),
		tok(`"message":"hello"}`),
		tok(` and the engine keeps talking`),
	))
	rec := &recorder{}

	d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1", Utterance: "hi"}, rec.observe)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Mode != decision.ModeReply || d.Reply.Message != "hello" || d.CorrelationID != "c1" {
		t.Fatalf("decision = %+v", d)
	}
	equalTopics(t, rec.topics(),
		event.TopicDecisionStart,
		event.TopicDecisionToken,
		event.TopicDecisionToken,
		event.TopicDecisionSelected,
		event.TopicDecisionDone,
	)

	var tp event.TokenPayload
	_ = rec.last(event.TopicDecisionToken).DecodePayload(&tp)
	if tp.Text != `{"mode":"reply","message":"hello"}` {
		t.Fatalf("token text not accumulated: %q", tp.Text)
	}
}

func TestClassify_CommitsTruncatedObjectAfterGrace(t *testing.T) {
	c, _, _ := newDecisionClient(t, 20*time.Millisecond, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		tok(`{"mode":"reply","message":"Disk is 40`),
	))

	d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Reply == nil || d.Reply.Message != "Disk is 40" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClassify_InfersModeFromShape(t *testing.T) {
	c, _, _ := newDecisionClient(t, 10*time.Second, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		tok(`{"automation_id":"disk-check","commands":["df -h"]}`),
	))

	d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Mode != decision.ModeConfirmedAction || d.Action == nil || d.Action.AutomationID != "disk-check" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClassify_TruncatedActionIsNeverCommitted(t *testing.T) {
	truncated := `{"mode":"confirmed_action","automation_id":"cleanup","commands":["rm -rf /var/`
	tests := []struct {
		name     string
		steps    []step
		timeout  time.Duration
		wantKind pipeline.ClassificationKind
	}{
		{"stream pauses", []step{tok(truncated)}, 200 * time.Millisecond, pipeline.ClassificationTransient},
		{"stream ends", []step{tok(truncated), {event.TopicDecisionDone, nil}}, 10 * time.Second, pipeline.ClassificationInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newDecisionClient(t, 20*time.Millisecond, tt.timeout, scriptOn(event.TopicDecisionRequest, tt.steps...))
			rec := &recorder{}

			d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, rec.observe)
			var ce *pipeline.ClassificationError
			if !errors.As(err, &ce) || ce.Kind != tt.wantKind {
				t.Fatalf("Classify = %+v, %v; want %s ClassificationError", d, err, tt.wantKind)
			}
			if rec.count(event.TopicDecisionSelected) != 0 {
				t.Fatal("truncated action was selected")
			}
		})
	}
}

func TestClassify_EngineSelected(t *testing.T) {
	raw := json.RawMessage(`{"mode":"confirmed_action","automation_id":"disk-check","commands":["df -h"],
		"preflight":[{"kind":"min_disk","params":{"need_gb":1}}]}`)
	c, _, _ := newDecisionClient(t, time.Second, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		step{event.TopicDecisionCandidates, event.CandidatesPayload{}},
		step{event.TopicDecisionSelected, event.SelectedPayload{Decision: raw}},
	))
	rec := &recorder{}

	d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c9"}, rec.observe)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Mode != decision.ModeConfirmedAction || !d.Confirmed() || !d.NeedsValidation() {
		t.Fatalf("decision = %+v", d)
	}
	if d.FinalizedAt.IsZero() {
		t.Fatal("FinalizedAt not set")
	}
	equalTopics(t, rec.topics(),
		event.TopicDecisionStart,
		event.TopicDecisionCandidates,
		event.TopicDecisionSelected,
		event.TopicDecisionDone,
	)
}

func TestClassify_QuotaErrorIsVerbatim(t *testing.T) {
	c, _, _ := newDecisionClient(t, time.Second, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		tok(`{"mode":`),
		step{event.TopicDecisionError, event.ErrorPayload{Reason: "monthly token quota exhausted", Kind: "quota"}},
	))
	rec := &recorder{}

	_, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, rec.observe)
	var ce *pipeline.ClassificationError
	if !errors.As(err, &ce) || ce.Kind != pipeline.ClassificationQuota {
		t.Fatalf("err = %v, want quota ClassificationError", err)
	}
	if ce.Reason != "monthly token quota exhausted" {
		t.Fatalf("reason = %q", ce.Reason)
	}
	if pipeline.Retryable(err) {
		t.Fatal("quota errors must not be retryable")
	}
	if rec.count(event.TopicDecisionError) != 1 || rec.count(event.TopicDecisionSelected) != 0 {
		t.Fatalf("topics = %v", rec.topics())
	}
	if got := rec.topics(); got[len(got)-1] != event.TopicDecisionDone {
		t.Fatalf("last topic = %s, want done", got[len(got)-1])
	}
}

func TestClassify_TransientFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder loopback.Responder
		timeout   time.Duration
	}{
		{"engine error", scriptOn(event.TopicDecisionRequest,
			step{event.TopicDecisionError, event.ErrorPayload{Reason: "connection reset"}}), 10 * time.Second},
		{"done without decision", scriptOn(event.TopicDecisionRequest,
			tok(`I am not sure`), step{event.TopicDecisionDone, nil}), 10 * time.Second},
		{"stream timeout", nil, 30 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newDecisionClient(t, time.Second, tt.timeout, tt.responder)
			_, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
			var ce *pipeline.ClassificationError
			if !errors.As(err, &ce) || ce.Kind != pipeline.ClassificationTransient {
				t.Fatalf("err = %v, want transient ClassificationError", err)
			}
			if !pipeline.Retryable(err) {
				t.Fatal("transient errors should be retryable")
			}
		})
	}
}

func TestClassify_SendFailure(t *testing.T) {
	c, _, ch := newDecisionClient(t, time.Second, time.Second, nil)
	_ = ch.Close()

	_, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
	var ce *pipeline.ClassificationError
	if !errors.As(err, &ce) || ce.Kind != pipeline.ClassificationTransient {
		t.Fatalf("err = %v, want transient ClassificationError", err)
	}
}

func TestClassify_InvalidSelected(t *testing.T) {
	c, _, _ := newDecisionClient(t, time.Second, 10*time.Second, scriptOn(event.TopicDecisionRequest,
		step{event.TopicDecisionSelected, event.SelectedPayload{Decision: json.RawMessage(`{"mode":"teleport"}`)}},
	))
	_, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
	var ce *pipeline.ClassificationError
	if !errors.As(err, &ce) || ce.Kind != pipeline.ClassificationInvalid {
		t.Fatalf("err = %v, want invalid ClassificationError", err)
	}
}

func TestClassify_DuplicateTokensIgnored(t *testing.T) {
	responder := func(ctx context.Context, c *loopback.Channel, e *event.Envelope) {
		if e.Topic != event.TopicDecisionRequest {
			return
		}
		first, _ := event.New(event.TopicDecisionToken, e.CorrelationID, event.TokenPayload{Delta: `{"message":"a`})
		_ = c.Emit(ctx, &first)
		_ = c.Emit(ctx, &first) // replayed
		_ = c.EmitNew(ctx, event.TopicDecisionToken, e.CorrelationID, event.TokenPayload{Delta: `b"}`})
	}
	c, _, _ := newDecisionClient(t, 10*time.Second, 10*time.Second, responder)

	d, err := c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Reply.Message != "ab" {
		t.Fatalf("message = %q, want ab", d.Reply.Message)
	}
}

func TestClassify_AbandonedStopsWithoutTerminal(t *testing.T) {
	r := NewRouter(16, 64, nil)
	ch := loopback.New(func(_ context.Context, _ *loopback.Channel, e *event.Envelope) {
		if e.Topic == event.TopicDecisionRequest {
			go r.Abandon(e.CorrelationID)
		}
	})
	t.Cleanup(r.Attach(ch))
	c, err := NewDecisionClient(r, ch, config.Decision{GracePeriod: time.Second, StreamTimeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}

	_, err = c.Classify(testCtx(t), ClassifyRequest{CorrelationID: "c1"}, rec.observe)
	if !errors.Is(err, ErrSubscriptionClosed) {
		t.Fatalf("err = %v, want ErrSubscriptionClosed", err)
	}
	equalTopics(t, rec.topics(), event.TopicDecisionStart)
}
