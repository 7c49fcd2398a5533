package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
)

// ErrSubscriptionClosed is returned by components whose subscription was
// closed underneath them, which happens when their correlation id is abandoned.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Router decodes inbound events, suppresses duplicates and events for
// abandoned correlation ids, and fans the rest out to subscriptions keyed by
// correlation id. Locally produced events enter through Publish.
type Router struct {
	mu        sync.Mutex
	seen      *recency[event.Key]
	abandoned *recency[string]
	subs      map[string]map[*Subscription]struct{}
	metrics   *otel.Metrics
}

// NewRouter creates a router remembering dedupWindow recent event keys and
// abandonedWindow abandoned correlation ids.
func NewRouter(dedupWindow, abandonedWindow int, metrics *otel.Metrics) *Router {
	return &Router{
		seen:      newRecency[event.Key](dedupWindow),
		abandoned: newRecency[string](abandonedWindow),
		subs:      make(map[string]map[*Subscription]struct{}),
		metrics:   metrics,
	}
}

// Attach routes every inbound event of ch. The returned function detaches.
func (r *Router) Attach(ch channel.Channel) func() {
	return ch.Receive(func(ctx context.Context, data []byte) {
		_, _ = r.Route(ctx, data)
	})
}

// Route decodes one raw event and delivers it. Malformed events are logged
// and dropped. The bool reports whether the event reached delivery.
func (r *Router) Route(ctx context.Context, data []byte) (*event.Envelope, bool) {
	e, err := event.Decode(data)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed event", "error", err, "size", len(data))
		r.metrics.MalformedEvent(ctx)
		return nil, false
	}
	return &e, r.Publish(ctx, &e)
}

// Publish delivers e to the subscriptions of its correlation id unless its
// key was seen within the recency window or the id was abandoned.
// Events whose key fell out of the window are delivered again.
func (r *Router) Publish(ctx context.Context, e *event.Envelope) bool {
	r.mu.Lock()
	if r.abandoned.contains(e.CorrelationID) {
		r.mu.Unlock()
		slog.DebugContext(ctx, "dropping event for abandoned correlation id",
			"topic", e.Topic, "correlation_id", e.CorrelationID)
		return false
	}
	if r.seen.touch(e.Key()) {
		r.mu.Unlock()
		slog.DebugContext(ctx, "dropping duplicate event",
			"topic", e.Topic, "correlation_id", e.CorrelationID, "ts", e.Timestamp)
		r.metrics.DuplicateDropped(ctx, string(e.Topic))
		return false
	}
	targets := make([]*Subscription, 0, len(r.subs[e.CorrelationID]))
	for s := range r.subs[e.CorrelationID] {
		if s.wants(e.Topic.Family()) {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.push(e)
	}
	return true
}

// Subscribe returns a subscription for events of correlationID, limited to
// the given families when any are passed.
func (r *Router) Subscribe(correlationID string, families ...event.Family) *Subscription {
	s := newSubscription(r, correlationID, families)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned.contains(correlationID) {
		s.shut()
		return s
	}
	set, ok := r.subs[correlationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.subs[correlationID] = set
	}
	set[s] = struct{}{}
	return s
}

// Abandon closes every subscription of correlationID and drops its later events.
func (r *Router) Abandon(correlationID string) {
	r.mu.Lock()
	r.abandoned.touch(correlationID)
	set := r.subs[correlationID]
	delete(r.subs, correlationID)
	r.mu.Unlock()

	for s := range set {
		s.shut()
	}
}

// Abandoned reports whether correlationID is in the abandoned window.
func (r *Router) Abandoned(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned.contains(correlationID)
}

func (r *Router) unsubscribe(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subs[s.correlationID]
	delete(set, s)
	if len(set) == 0 {
		delete(r.subs, s.correlationID)
	}
}

// Subscription is an unbounded, ordered mailbox for one correlation id.
// Events are delivered on C in arrival order. C is closed after Close or
// when the correlation id is abandoned.
type Subscription struct {
	router        *Router
	correlationID string
	families      map[event.Family]bool

	mu     sync.Mutex
	queue  []*event.Envelope
	closed bool

	notify chan struct{}
	done   chan struct{}
	out    chan *event.Envelope
	once   sync.Once
}

func newSubscription(r *Router, correlationID string, families []event.Family) *Subscription {
	s := &Subscription{
		router:        r,
		correlationID: correlationID,
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		out:           make(chan *event.Envelope),
	}
	if len(families) > 0 {
		s.families = make(map[event.Family]bool, len(families))
		for _, f := range families {
			s.families[f] = true
		}
	}
	go s.pump()
	return s
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan *event.Envelope {
	return s.out
}

// Close stops delivery and removes the subscription from the router.
func (s *Subscription) Close() {
	s.router.unsubscribe(s)
	s.shut()
}

func (s *Subscription) wants(f event.Family) bool {
	return s.families == nil || s.families[f]
}

func (s *Subscription) push(e *event.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) shut() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
