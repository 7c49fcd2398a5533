package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/OpsPilot/internal/adapter/loopback"
	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
	"github.com/Strob0t/OpsPilot/internal/domain/target"
)

// step is one scripted engine event.
type step struct {
	topic   event.Topic
	payload any
}

// scriptOn returns a responder that answers the trigger topic with steps.
func scriptOn(trigger event.Topic, steps ...step) loopback.Responder {
	return func(ctx context.Context, c *loopback.Channel, e *event.Envelope) {
		if e.Topic != trigger {
			return
		}
		for _, s := range steps {
			_ = c.EmitNew(ctx, s.topic, e.CorrelationID, s.payload)
		}
	}
}

// recorder collects observed events.
type recorder struct {
	mu     sync.Mutex
	events []*event.Envelope
}

func (r *recorder) observe(_ context.Context, e *event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) topics() []event.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Topic, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

func (r *recorder) last(topic event.Topic) *event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Topic == topic {
			return r.events[i]
		}
	}
	return nil
}

func (r *recorder) count(topic event.Topic) int {
	n := 0
	for _, t := range r.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

func equalTopics(t *testing.T, got []event.Topic, want ...event.Topic) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topics = %v, want %v", got, want)
		}
	}
}

// wire attaches a fresh router to a loopback channel.
func wire(t *testing.T, responder loopback.Responder) (*Router, *loopback.Channel) {
	t.Helper()
	r := NewRouter(16, 64, nil)
	ch := loopback.New(responder)
	t.Cleanup(r.Attach(ch))
	return r, ch
}

type fakeTargets struct {
	snaps map[string]*target.Snapshot
	err   error
}

func (f *fakeTargets) Snapshot(_ context.Context, id string) (*target.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snaps[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func healthyHost() *target.Snapshot {
	return &target.Snapshot{
		TargetID:            "web-1",
		DiskFreeGB:          4,
		DiskTotalGB:         50,
		CPUPercent:          20,
		MemoryPercent:       40,
		OpenPorts:           []int{22, 80},
		UptimeSeconds:       86400,
		OS:                  "ubuntu",
		OSVersion:           "22.04",
		HeartbeatAgeSeconds: 5,
	}
}

func actionWith(checks ...preflight.Spec) *decision.Decision {
	return &decision.Decision{
		Mode:   decision.ModeConfirmedAction,
		Risk:   decision.RiskMedium,
		Status: decision.StatusConfirmed,
		Action: &decision.Action{AutomationID: "disk-check", Commands: []string{"df -h"}, Preflight: checks},
	}
}
