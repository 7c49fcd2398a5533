package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

// PreflightEngine starts evaluating the checks of req. Results arrive
// asynchronously as validation.check and validation.done events for
// req.CorrelationID on the router.
type PreflightEngine interface {
	Start(ctx context.Context, req preflight.Request) error
}

// ValidationMonitor runs the preflight checks of a decision and aggregates
// their results into a Report.
type ValidationMonitor struct {
	router  *Router
	engine  PreflightEngine
	stall   time.Duration
	metrics *otel.Metrics
	now     func() time.Time
}

// NewValidationMonitor creates a ValidationMonitor that gives up when no
// check result arrives for stall.
func NewValidationMonitor(router *Router, engine PreflightEngine, stall time.Duration, metrics *otel.Metrics) *ValidationMonitor {
	return &ValidationMonitor{
		router:  router,
		engine:  engine,
		stall:   stall,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run evaluates the preflight checks of d against targetID. Every check runs
// to completion; overall_ok is their conjunction. A failed or timed-out
// report is returned together with a *pipeline.ValidationError.
func (m *ValidationMonitor) Run(ctx context.Context, cid, targetID string, d *decision.Decision, observe Observer) (*preflight.Report, error) {
	specs := d.Preflight()
	report := preflight.NewReport(cid, specs, m.now())
	emit(ctx, observe, event.TopicValidationStarted, cid, report.Clone())

	if len(specs) == 0 {
		return m.finish(ctx, report, observe)
	}

	sub := m.router.Subscribe(cid, event.FamilyValidation)
	defer sub.Close()

	if err := m.engine.Start(ctx, preflight.Request{CorrelationID: cid, TargetID: targetID, Checks: specs}); err != nil {
		slog.ErrorContext(ctx, "start preflight", "error", err)
		for _, c := range report.Checks {
			c.Status = preflight.StatusFail
			c.Message = fmt.Sprintf("preflight engine unavailable: %v", err)
			report.Record(c)
		}
		return m.finish(ctx, report, observe)
	}

	stall := time.NewTimer(m.stall)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()

		case <-stall.C:
			report.Timeout(m.now())
			m.metrics.ValidationTimedOut(ctx)
			slog.WarnContext(ctx, "preflight timed out", "stall", m.stall, "failed", len(report.Failed()))
			emit(ctx, observe, event.TopicValidationTimeout, cid, report.Clone())
			return report, &pipeline.ValidationError{Timeout: true, Report: report.Clone()}

		case e, ok := <-sub.C():
			if !ok {
				return report, ErrSubscriptionClosed
			}
			switch e.Topic {
			case event.TopicValidationCheck:
				var c event.CheckPayload
				if err := e.DecodePayload(&c); err != nil || c.Name == "" {
					slog.WarnContext(ctx, "dropping undecodable check result", "error", err)
					continue
				}
				if !report.Record(c) {
					continue
				}
				stall.Reset(m.stall)
				forward(ctx, observe, e)
				if report.Resolved() {
					return m.finish(ctx, report, observe)
				}
			case event.TopicValidationDone:
				return m.finish(ctx, report, observe)
			case event.TopicValidationTimeout:
				report.Timeout(m.now())
				m.metrics.ValidationTimedOut(ctx)
				emit(ctx, observe, event.TopicValidationTimeout, cid, report.Clone())
				return report, &pipeline.ValidationError{Timeout: true, Report: report.Clone()}
			}
		}
	}
}

func (m *ValidationMonitor) finish(ctx context.Context, report *preflight.Report, observe Observer) (*preflight.Report, error) {
	report.Finalize(m.now())
	emit(ctx, observe, event.TopicValidationDone, report.CorrelationID, event.ValidationDonePayload{OK: report.OverallOK})
	if !report.OverallOK {
		return report, &pipeline.ValidationError{Report: report.Clone()}
	}
	return report, nil
}
