package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/execution"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/port/channel"
)

// ExecutionMonitor starts remote runs and folds their lifecycle events into
// an execution.Run until it reaches a terminal state.
type ExecutionMonitor struct {
	router      *Router
	ch          channel.Channel
	idle        time.Duration
	outputLines int
	metrics     *otel.Metrics
	now         func() time.Time
	newID       func() string
}

// NewExecutionMonitor creates an ExecutionMonitor sending commands on ch.
func NewExecutionMonitor(router *Router, ch channel.Channel, cfg config.Execution, metrics *otel.Metrics) *ExecutionMonitor {
	lines := cfg.OutputLines
	if lines <= 0 {
		lines = execution.DefaultOutputLines
	}
	return &ExecutionMonitor{
		router:      router,
		ch:          ch,
		idle:        cfg.IdleTimeout,
		outputLines: lines,
		metrics:     metrics,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Execute sends execution.start for d and watches the run to completion.
// onStart receives the queued run before any engine event is applied.
// A failed or stalled run is returned with a *pipeline.ExecutionError.
func (m *ExecutionMonitor) Execute(ctx context.Context, cid, targetID string, d *decision.Decision, onStart func(*execution.Run), observe Observer) (*execution.Run, error) {
	run := execution.NewRun(m.newID(), cid, m.outputLines, m.now())
	sub := m.router.Subscribe(cid, event.FamilyExecution)
	defer sub.Close()

	if onStart != nil {
		onStart(run.Clone())
	}
	if err := m.send(ctx, event.TopicExecutionStart, cid, startRequest(run.ID, targetID, d)); err != nil {
		run.Cancel(m.now())
		run.Reason = execution.ReasonError
		run.Error = err.Error()
		return run, &pipeline.ExecutionError{RunID: run.ID, Reason: run.Error}
	}
	slog.InfoContext(ctx, "execution started", "run_id", run.ID, "target_id", targetID)
	return m.watch(ctx, sub, run, observe)
}

var errNoRun = errors.New("no execution run to watch")

// Watch resumes monitoring of an existing run, e.g. after recovery.
func (m *ExecutionMonitor) Watch(ctx context.Context, run *execution.Run, observe Observer) (*execution.Run, error) {
	if run == nil {
		return nil, errNoRun
	}
	run = run.Clone()
	if run.Terminal() {
		return run, runError(run)
	}
	sub := m.router.Subscribe(run.CorrelationID, event.FamilyExecution)
	defer sub.Close()
	return m.watch(ctx, sub, run, observe)
}

// Cancel asks the engine to stop the run.
func (m *ExecutionMonitor) Cancel(ctx context.Context, cid, runID, reason string) error {
	return m.send(ctx, event.TopicExecutionCancel, cid, event.ExecutionCancelRequest{RunID: runID, Reason: reason})
}

func (m *ExecutionMonitor) watch(ctx context.Context, sub *Subscription, run *execution.Run, observe Observer) (*execution.Run, error) {
	idle := time.NewTimer(m.idle)
	defer idle.Stop()
	if !run.Live() {
		idle.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return run, ctx.Err()

		case <-idle.C:
			if !run.Stall(m.idle, m.now()) {
				continue
			}
			m.metrics.ExecutionStalled(ctx)
			slog.WarnContext(ctx, "execution stalled", "run_id", run.ID, "idle", m.idle)
			if err := m.Cancel(ctx, run.CorrelationID, run.ID, execution.ReasonStalled); err != nil {
				slog.WarnContext(ctx, "cancel stalled run", "run_id", run.ID, "error", err)
			}
			emit(ctx, observe, event.TopicExecutionTimeout, run.CorrelationID, event.ExecErrorPayload{Reason: run.Error})
			return m.done(ctx, run)

		case e, ok := <-sub.C():
			if !ok {
				return run, ErrSubscriptionClosed
			}
			if e.RunID != "" && e.RunID != run.ID {
				slog.DebugContext(ctx, "ignoring event for other run", "run_id", e.RunID, "topic", e.Topic)
				continue
			}
			changed, err := run.Apply(e, m.now())
			if err != nil {
				slog.WarnContext(ctx, "dropping undecodable execution event", "topic", e.Topic, "error", err)
				continue
			}
			if !changed {
				continue
			}
			forward(ctx, observe, e)
			if run.Terminal() {
				return m.done(ctx, run)
			}
			if run.Live() {
				idle.Reset(m.idle)
			}
		}
	}
}

func (m *ExecutionMonitor) done(ctx context.Context, run *execution.Run) (*execution.Run, error) {
	m.metrics.ExecutionFinished(ctx, run.Duration, string(run.Status))
	return run, runError(run)
}

func (m *ExecutionMonitor) send(ctx context.Context, topic event.Topic, cid string, payload any) error {
	env, err := event.New(topic, cid, payload)
	if err != nil {
		return err
	}
	if err := m.ch.Send(ctx, &env); err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}

func runError(run *execution.Run) error {
	if run.Status != execution.StatusFailed {
		return nil
	}
	return &pipeline.ExecutionError{
		RunID:      run.ID,
		Stalled:    run.Reason == execution.ReasonStalled,
		Reason:     run.Error,
		LastOutput: run.Output.Lines(),
	}
}

func startRequest(runID, targetID string, d *decision.Decision) event.ExecutionStartRequest {
	req := event.ExecutionStartRequest{RunID: runID, TargetID: targetID, Commands: d.Commands()}
	switch {
	case d.Action != nil:
		req.AutomationID = d.Action.AutomationID
		req.Parameters = d.Action.Parameters
	case d.Draft != nil:
		req.Script = d.Draft.Script
	}
	return req
}
