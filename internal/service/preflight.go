package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
	"github.com/Strob0t/OpsPilot/internal/domain/target"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
	targetport "github.com/Strob0t/OpsPilot/internal/port/target"
)

// LocalPreflightEngine evaluates checks in process against a snapshot from
// the target provider and publishes the results on the router.
type LocalPreflightEngine struct {
	router      *Router
	targets     targetport.Provider
	eval        *preflight.Evaluator
	concurrency int
}

// NewLocalPreflightEngine creates an engine evaluating at most concurrency
// checks at a time.
func NewLocalPreflightEngine(router *Router, targets targetport.Provider, concurrency int) (*LocalPreflightEngine, error) {
	eval, err := preflight.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &LocalPreflightEngine{
		router:      router,
		targets:     targets,
		eval:        eval,
		concurrency: max(concurrency, 1),
	}, nil
}

// Start evaluates req in the background.
func (e *LocalPreflightEngine) Start(ctx context.Context, req preflight.Request) error {
	go e.run(ctx, req)
	return nil
}

func (e *LocalPreflightEngine) run(ctx context.Context, req preflight.Request) {
	snap, snapErr := e.targets.Snapshot(ctx, req.TargetID)
	if snapErr != nil {
		slog.WarnContext(ctx, "target snapshot failed", "target_id", req.TargetID, "error", snapErr)
	}

	results := make([]preflight.Check, len(req.Checks))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range req.Checks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = e.evaluate(req.Checks[i], snap, snapErr)
			e.publish(ctx, event.TopicValidationCheck, req.CorrelationID, results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return
	}

	ok := true
	for i := range results {
		ok = ok && results[i].Status == preflight.StatusPass
	}
	e.publish(ctx, event.TopicValidationDone, req.CorrelationID, event.ValidationDonePayload{OK: ok})
}

func (e *LocalPreflightEngine) evaluate(spec preflight.Spec, snap *target.Snapshot, snapErr error) preflight.Check {
	if snapErr != nil {
		return preflight.Check{
			Name:    spec.CheckName(),
			Kind:    spec.Kind,
			Status:  preflight.StatusFail,
			Message: fmt.Sprintf("target snapshot unavailable: %v", snapErr),
		}
	}
	return e.eval.Evaluate(spec, snap)
}

func (e *LocalPreflightEngine) publish(ctx context.Context, topic event.Topic, cid string, payload any) {
	env, err := event.New(topic, cid, payload)
	if err != nil {
		slog.ErrorContext(ctx, "build preflight event", "topic", topic, "error", err)
		return
	}
	e.router.Publish(ctx, &env)
}

// RemotePreflightEngine asks the remote validation engine to run the checks.
type RemotePreflightEngine struct {
	ch channel.Channel
}

// NewRemotePreflightEngine creates an engine sending validation.request on ch.
func NewRemotePreflightEngine(ch channel.Channel) *RemotePreflightEngine {
	return &RemotePreflightEngine{ch: ch}
}

// Start sends the request.
func (e *RemotePreflightEngine) Start(ctx context.Context, req preflight.Request) error {
	env, err := event.New(event.TopicValidationRequest, req.CorrelationID, req)
	if err != nil {
		return err
	}
	if err := e.ch.Send(ctx, &env); err != nil {
		return fmt.Errorf("send validation request: %w", err)
	}
	return nil
}
