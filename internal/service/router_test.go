package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/OpsPilot/internal/adapter/loopback"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

func envelope(topic event.Topic, cid string, ts int64) *event.Envelope {
	return &event.Envelope{Topic: topic, CorrelationID: cid, Timestamp: ts, Payload: json.RawMessage("{}")}
}

func recv(t *testing.T, s *Subscription) *event.Envelope {
	t.Helper()
	select {
	case e, ok := <-s.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func expectQuiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case e, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected event %s", e.Topic)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouter_DeliversInOrder(t *testing.T) {
	r := NewRouter(16, 16, nil)
	sub := r.Subscribe("c1")
	defer sub.Close()

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		r.Publish(ctx, envelope(event.TopicDecisionToken, "c1", i))
	}
	for i := int64(1); i <= 5; i++ {
		if got := recv(t, sub).Timestamp; got != i {
			t.Fatalf("event %d arrived with ts %d", i, got)
		}
	}
}

func TestRouter_DropsDuplicates(t *testing.T) {
	r := NewRouter(16, 16, nil)
	sub := r.Subscribe("c1")
	defer sub.Close()

	ctx := context.Background()
	if !r.Publish(ctx, envelope(event.TopicExecutionProgress, "c1", 7)) {
		t.Fatal("first delivery rejected")
	}
	if r.Publish(ctx, envelope(event.TopicExecutionProgress, "c1", 7)) {
		t.Fatal("duplicate delivered")
	}
	// Same timestamp, other topic: distinct key.
	if !r.Publish(ctx, envelope(event.TopicExecutionStdout, "c1", 7)) {
		t.Fatal("distinct topic rejected")
	}
	recv(t, sub)
	recv(t, sub)
	expectQuiet(t, sub)
}

func TestRouter_FailsOpenOutsideWindow(t *testing.T) {
	r := NewRouter(2, 16, nil)
	ctx := context.Background()
	a := envelope(event.TopicDecisionToken, "c1", 1)

	r.Publish(ctx, a)
	r.Publish(ctx, envelope(event.TopicDecisionToken, "c1", 2))
	r.Publish(ctx, envelope(event.TopicDecisionToken, "c1", 3))

	if !r.Publish(ctx, a) {
		t.Fatal("event evicted from the window should be delivered again")
	}
}

func TestRouter_FiltersByFamilyAndCorrelation(t *testing.T) {
	r := NewRouter(16, 16, nil)
	exec := r.Subscribe("c1", event.FamilyExecution)
	all := r.Subscribe("c1")
	other := r.Subscribe("c2")
	defer exec.Close()
	defer all.Close()
	defer other.Close()

	ctx := context.Background()
	r.Publish(ctx, envelope(event.TopicDecisionToken, "c1", 1))
	r.Publish(ctx, envelope(event.TopicExecutionStarted, "c1", 2))

	if got := recv(t, exec).Topic; got != event.TopicExecutionStarted {
		t.Fatalf("execution subscriber got %s", got)
	}
	recv(t, all)
	recv(t, all)
	expectQuiet(t, other)
}

func TestRouter_AbandonClosesAndIgnores(t *testing.T) {
	r := NewRouter(16, 16, nil)
	sub := r.Subscribe("c1")
	r.Abandon("c1")

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed subscription")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Abandon")
	}

	if r.Publish(context.Background(), envelope(event.TopicExecutionStarted, "c1", 1)) {
		t.Fatal("event for abandoned id delivered")
	}
	if !r.Abandoned("c1") {
		t.Fatal("Abandoned(c1) = false")
	}

	late := r.Subscribe("c1")
	if _, ok := <-late.C(); ok {
		t.Fatal("subscription to abandoned id should start closed")
	}
}

func TestRouter_RouteDropsMalformed(t *testing.T) {
	r := NewRouter(16, 16, nil)
	sub := r.Subscribe("c1")
	defer sub.Close()
	ctx := context.Background()

	for _, raw := range []string{
		`not json`,
		`{"topic":"","correlation_id":"c1"}`,
		`{"topic":"billing.charge","correlation_id":"c1"}`,
		`{"topic":"decision.token"}`,
		`{"topic":"decision.token","correlation_id":"c1","payload":"text"}`,
		`{"topic":"decision.token","correlation_id":"c1"}`,
	} {
		if _, ok := r.Route(ctx, []byte(raw)); ok {
			t.Errorf("Route(%s) delivered a malformed event", raw)
		}
	}
	expectQuiet(t, sub)

	e, ok := r.Route(ctx, []byte(`{"topic":"decision.token","correlation_id":"c1","ts":4}`))
	if !ok || e.Topic != event.TopicDecisionToken {
		t.Fatalf("valid event not routed: %v %v", e, ok)
	}
	if string(recv(t, sub).Payload) != "{}" {
		t.Fatal("absent payload not normalized")
	}
}

func TestRouter_RouteKeepsDistinctStampedLines(t *testing.T) {
	r := NewRouter(16, 16, nil)
	sub := r.Subscribe("c1")
	defer sub.Close()
	ctx := context.Background()

	delivered := 0
	for i, line := range []string{"a", "b", "c"} {
		unstamped := fmt.Sprintf(`{"topic":"execution.stdout_line","correlation_id":"c1","payload":{"line":%q}}`, line)
		if _, ok := r.Route(ctx, []byte(unstamped)); ok {
			t.Fatalf("event without ts routed: %s", unstamped)
		}
		stamped := fmt.Sprintf(`{"topic":"execution.stdout_line","correlation_id":"c1","ts":%d,"payload":{"line":%q}}`, i+1, line)
		if _, ok := r.Route(ctx, []byte(stamped)); ok {
			delivered++
		}
	}
	if delivered != 3 {
		t.Fatalf("delivered = %d, want 3", delivered)
	}
	for range 3 {
		recv(t, sub)
	}
}

func TestRouter_AttachRoutesChannelEvents(t *testing.T) {
	r := NewRouter(16, 16, nil)
	ch := loopback.New(nil)
	detach := r.Attach(ch)
	sub := r.Subscribe("c1")
	defer sub.Close()

	ctx := context.Background()
	e := envelope(event.TopicValidationCheck, "c1", 9)
	_ = ch.Emit(ctx, e)
	_ = ch.Emit(ctx, e)
	recv(t, sub)
	expectQuiet(t, sub)

	detach()
	_ = ch.Emit(ctx, envelope(event.TopicValidationCheck, "c1", 10))
	expectQuiet(t, sub)
}

func TestRecency(t *testing.T) {
	r := newRecency[string](2)
	if r.touch("a") || r.touch("b") {
		t.Fatal("new keys reported present")
	}
	if !r.touch("a") {
		t.Fatal("a should be present")
	}
	r.touch("c") // evicts b, the least recently touched
	if r.contains("b") {
		t.Fatal("b should have been evicted")
	}
	if !r.contains("a") || !r.contains("c") || r.len() != 2 {
		t.Fatal("unexpected contents after eviction")
	}
}

// Property: within the recency window every distinct key is delivered
// exactly once no matter how often or in which order it is repeated.
func TestRouter_DedupProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	const distinct = 12
	topics := []event.Topic{event.TopicDecisionToken, event.TopicValidationCheck, event.TopicExecutionStdout}

	properties.Property("duplicates within the window are delivered once", prop.ForAll(
		func(seq []int) bool {
			r := NewRouter(16, 16, nil)
			delivered := make(map[int]int)
			for _, k := range seq {
				e := envelope(topics[k%len(topics)], fmt.Sprintf("c%d", k%2), int64(k))
				if r.Publish(context.Background(), e) {
					delivered[k]++
				}
			}
			for _, k := range seq {
				if delivered[k] != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, distinct-1)),
	))

	properties.TestingRun(t)
}
