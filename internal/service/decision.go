package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
)

// ClassifyRequest is one utterance to classify.
type ClassifyRequest struct {
	CorrelationID string
	Utterance     string
	Context       map[string]any
	TargetOS      string
	Candidates    []catalog.Candidate
}

// DecisionClient sends classification requests to the decision engine and
// turns its token stream into a single Decision.
type DecisionClient struct {
	router        *Router
	ch            channel.Channel
	shapes        *decision.ShapeMatcher
	grace         time.Duration
	streamTimeout time.Duration
	now           func() time.Time
}

// NewDecisionClient creates a DecisionClient.
func NewDecisionClient(router *Router, ch channel.Channel, cfg config.Decision) (*DecisionClient, error) {
	shapes, err := decision.NewShapeMatcher()
	if err != nil {
		return nil, fmt.Errorf("decision shapes: %w", err)
	}
	return &DecisionClient{
		router:        router,
		ch:            ch,
		shapes:        shapes,
		grace:         cfg.GracePeriod,
		streamTimeout: cfg.StreamTimeout,
		now:           time.Now,
	}, nil
}

// Classify emits decision.start, streams decision.token events carrying the
// accumulated text, and ends with exactly one decision.selected or
// decision.error followed by decision.done. It returns early without a
// terminal event when ctx is cancelled or the correlation id is abandoned.
func (c *DecisionClient) Classify(ctx context.Context, req ClassifyRequest, observe Observer) (*decision.Decision, error) {
	cid := req.CorrelationID
	sub := c.router.Subscribe(cid, event.FamilyDecision)
	defer sub.Close()

	emit(ctx, observe, event.TopicDecisionStart, cid, nil)

	d, err := c.stream(ctx, sub, req, observe)
	var ce *pipeline.ClassificationError
	switch {
	case err == nil:
		raw, _ := json.Marshal(d)
		emit(ctx, observe, event.TopicDecisionSelected, cid, event.SelectedPayload{Decision: raw})
	case errors.As(err, &ce):
		slog.WarnContext(ctx, "classification failed", "kind", ce.Kind, "reason", ce.Reason)
		emit(ctx, observe, event.TopicDecisionError, cid, event.ErrorPayload{Reason: ce.Reason, Kind: string(ce.Kind)})
	default:
		return nil, err
	}
	emit(ctx, observe, event.TopicDecisionDone, cid, nil)
	return d, err
}

func (c *DecisionClient) stream(ctx context.Context, sub *Subscription, req ClassifyRequest, observe Observer) (*decision.Decision, error) {
	cid := req.CorrelationID
	out, err := event.New(event.TopicDecisionRequest, cid, event.DecisionRequest{
		Utterance:  req.Utterance,
		Context:    req.Context,
		TargetOS:   req.TargetOS,
		Candidates: req.Candidates,
	})
	if err != nil {
		return nil, err
	}
	if err := c.ch.Send(ctx, &out); err != nil {
		return nil, &pipeline.ClassificationError{Kind: pipeline.ClassificationTransient, Reason: err.Error(), Err: err}
	}

	idle := time.NewTimer(c.streamTimeout)
	defer idle.Stop()
	grace := time.NewTimer(c.grace)
	grace.Stop()
	defer grace.Stop()
	var graceC <-chan time.Time

	var text string
	var parseErr error

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-idle.C:
			return nil, &pipeline.ClassificationError{
				Kind:   pipeline.ClassificationTransient,
				Reason: fmt.Sprintf("no decision event for %s", c.streamTimeout),
			}

		case <-graceC:
			graceC = nil
			if d, err := c.commitPartial(text); err == nil {
				slog.DebugContext(ctx, "decision committed after grace period", "mode", d.Mode)
				return c.finalize(d, cid), nil
			}

		case e, ok := <-sub.C():
			if !ok {
				return nil, ErrSubscriptionClosed
			}
			idle.Reset(c.streamTimeout)

			switch e.Topic {
			case event.TopicDecisionToken:
				var tok event.TokenPayload
				if err := e.DecodePayload(&tok); err != nil {
					slog.WarnContext(ctx, "dropping undecodable token", "error", err)
					continue
				}
				if tok.Text != "" {
					text = tok.Text
				} else {
					text += tok.Delta
				}
				emit(ctx, observe, event.TopicDecisionToken, cid, event.TokenPayload{Text: text})

				// A closed object with an unambiguous shape commits at once.
				d, err := c.commit(decision.Complete(text))
				if err == nil {
					return c.finalize(d, cid), nil
				}
				if !errors.Is(err, errNoObject) && !errors.Is(err, errAmbiguous) {
					parseErr = err
				}
				// A truncated reply commits once the stream pauses for the
				// grace period. Actions wait for their closing brace.
				if mode, ok := c.plausible(text); ok && mode == decision.ModeReply {
					grace.Reset(c.grace)
					graceC = grace.C
				} else {
					grace.Stop()
					graceC = nil
				}

			case event.TopicDecisionCandidates:
				forward(ctx, observe, e)

			case event.TopicDecisionSelected:
				var sel event.SelectedPayload
				if err := e.DecodePayload(&sel); err != nil {
					return nil, invalid(err)
				}
				d, err := decision.Parse(sel.Decision, cid)
				if err != nil {
					return nil, invalid(err)
				}
				return c.finalize(d, cid), nil

			case event.TopicDecisionError:
				var p event.ErrorPayload
				if err := e.DecodePayload(&p); err != nil {
					return nil, &pipeline.ClassificationError{Kind: pipeline.ClassificationTransient, Reason: err.Error(), Err: err}
				}
				return nil, classifyEngineError(p)

			case event.TopicDecisionDone:
				d, err := c.commitPartial(text)
				if err == nil {
					return c.finalize(d, cid), nil
				}
				if errors.Is(err, errIncompleteAction) {
					return nil, invalid(err)
				}
				if parseErr != nil {
					return nil, invalid(parseErr)
				}
				return nil, &pipeline.ClassificationError{
					Kind:   pipeline.ClassificationTransient,
					Reason: "decision stream ended without a decision",
				}
			}
		}
	}
}

var (
	errNoObject         = errors.New("no decision object")
	errAmbiguous        = errors.New("decision shape is ambiguous")
	errIncompleteAction = errors.New("action decision ended before its closing brace")
)

// commit parses obj when it matches exactly one decision shape. The matched
// shape supplies the mode when obj does not name one.
func (c *DecisionClient) commit(obj json.RawMessage, ok bool) (*decision.Decision, error) {
	if !ok {
		return nil, errNoObject
	}
	mode, unique := c.shapes.Unique(obj)
	if !unique {
		return nil, errAmbiguous
	}
	return decision.ParseInferred(obj, "", mode)
}

// commitPartial commits the repaired form of a truncated object. Only
// replies qualify: a repaired action could carry a cut-off command.
func (c *DecisionClient) commitPartial(text string) (*decision.Decision, error) {
	if obj, ok := decision.Complete(text); ok {
		return c.commit(obj, true)
	}
	obj, ok := decision.Repair(text)
	if !ok {
		return nil, errNoObject
	}
	mode, unique := c.shapes.Unique(obj)
	if !unique {
		return nil, errAmbiguous
	}
	if mode != decision.ModeReply {
		return nil, errIncompleteAction
	}
	return decision.ParseInferred(obj, "", mode)
}

func (c *DecisionClient) plausible(text string) (decision.Mode, bool) {
	obj, ok := decision.Repair(text)
	if !ok {
		return "", false
	}
	return c.shapes.Unique(obj)
}

func (c *DecisionClient) finalize(d *decision.Decision, cid string) *decision.Decision {
	d.CorrelationID = cid
	if d.FinalizedAt.IsZero() {
		d.FinalizedAt = c.now()
	}
	return d
}

func invalid(err error) error {
	return &pipeline.ClassificationError{Kind: pipeline.ClassificationInvalid, Reason: err.Error(), Err: err}
}

// classifyEngineError maps an engine-reported failure. Usage and quota
// errors keep the engine's reason verbatim.
func classifyEngineError(p event.ErrorPayload) error {
	kind := pipeline.ClassificationTransient
	switch p.Kind {
	case "quota", "usage":
		kind = pipeline.ClassificationQuota
	}
	reason := p.Reason
	if reason == "" {
		reason = "decision engine error"
	}
	return &pipeline.ClassificationError{Kind: kind, Reason: reason}
}
