package nats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/logger"
	"github.com/Strob0t/OpsPilot/internal/port/messagequeue"
)

// memQueue delivers published messages synchronously to subscribers whose
// subject is an exact match or a trailing ">" wildcard.
type memQueue struct {
	mu        sync.Mutex
	subs      map[string]messagequeue.Handler
	published []published
}

type published struct {
	subject       string
	data          []byte
	correlationID string
}

func newMemQueue() *memQueue {
	return &memQueue{subs: make(map[string]messagequeue.Handler)}
}

func (q *memQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published = append(q.published, published{subject, data, logger.CorrelationID(ctx)})
	var hs []messagequeue.Handler
	for pattern, h := range q.subs {
		if pattern == subject || (strings.HasSuffix(pattern, ">") && strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))) {
			hs = append(hs, h)
		}
	}
	q.mu.Unlock()
	for _, h := range hs {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.subs, subject)
		q.mu.Unlock()
	}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

func TestChannel_SendPublishesOnCommandSubject(t *testing.T) {
	q := newMemQueue()
	c, err := NewChannel(context.Background(), q, "ops")
	if err != nil {
		t.Fatal(err)
	}
	e, _ := event.New(event.TopicDecisionRequest, "c1", event.DecisionRequest{Utterance: "check disk space"})
	if err := c.Send(context.Background(), &e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(q.published) != 1 {
		t.Fatalf("published %d messages", len(q.published))
	}
	got := q.published[0]
	if got.subject != "ops.cmd.decision.request" || got.correlationID != "c1" {
		t.Fatalf("published = %+v", got)
	}
	if err := messagequeue.Validate("ops", got.subject, got.data); err != nil {
		t.Fatalf("published data does not validate: %v", err)
	}
}

func TestChannel_ReceivesValidEngineEvents(t *testing.T) {
	q := newMemQueue()
	c, err := NewChannel(context.Background(), q, "ops")
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	stop := c.Receive(func(_ context.Context, data []byte) { got = append(got, string(data)) })
	defer stop()

	ctx := context.Background()
	valid := `{"topic":"decision.token","correlation_id":"c1","ts":1,"payload":{"delta":"{"}}`
	_ = q.Publish(ctx, "ops.evt.decision.token", []byte(valid))
	_ = q.Publish(ctx, "ops.evt.decision.done", []byte(valid))     // topic mismatch
	_ = q.Publish(ctx, "ops.evt.decision.token", []byte(`{broken`)) // not json

	if len(got) != 1 || got[0] != valid {
		t.Fatalf("received = %v", got)
	}
}

func TestChannel_Close(t *testing.T) {
	q := newMemQueue()
	c, _ := NewChannel(context.Background(), q, "ops")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(q.subs) != 0 {
		t.Fatal("subscription not stopped")
	}
	e, _ := event.New(event.TopicExecutionCancel, "c1", nil)
	if err := c.Send(context.Background(), &e); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Send after Close err = %v", err)
	}
}
