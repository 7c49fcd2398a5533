package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "opspilot"

// Metrics holds all OpsPilot metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	PipelinesStarted   metric.Int64Counter
	PipelinesCompleted metric.Int64Counter
	PipelinesFailed    metric.Int64Counter
	DuplicatesDropped  metric.Int64Counter
	MalformedEvents    metric.Int64Counter
	ValidationTimeouts metric.Int64Counter
	ExecutionStalls    metric.Int64Counter
	ExecutionDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.PipelinesStarted, "opspilot.pipelines.started", "Number of pipelines started"},
		{&m.PipelinesCompleted, "opspilot.pipelines.completed", "Number of pipelines completed"},
		{&m.PipelinesFailed, "opspilot.pipelines.failed", "Number of pipelines failed"},
		{&m.DuplicatesDropped, "opspilot.events.duplicates", "Number of duplicate events dropped"},
		{&m.MalformedEvents, "opspilot.events.malformed", "Number of malformed events dropped"},
		{&m.ValidationTimeouts, "opspilot.validation.timeouts", "Number of preflight runs that timed out"},
		{&m.ExecutionStalls, "opspilot.execution.stalls", "Number of runs failed as stalled"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.ExecutionDuration, err = meter.Float64Histogram("opspilot.execution.duration_seconds",
		metric.WithDescription("Execution duration in seconds"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PipelineStarted counts a new pipeline.
func (m *Metrics) PipelineStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.PipelinesStarted.Add(ctx, 1)
}

// PipelineFinished counts a pipeline that reached a terminal phase.
func (m *Metrics) PipelineFinished(ctx context.Context, ok bool, category string) {
	if m == nil {
		return
	}
	if ok {
		m.PipelinesCompleted.Add(ctx, 1)
		return
	}
	m.PipelinesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// DuplicateDropped counts a suppressed duplicate event.
func (m *Metrics) DuplicateDropped(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.DuplicatesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// MalformedEvent counts an event rejected by decoding.
func (m *Metrics) MalformedEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.MalformedEvents.Add(ctx, 1)
}

// ValidationTimedOut counts a preflight stall timeout.
func (m *Metrics) ValidationTimedOut(ctx context.Context) {
	if m == nil {
		return
	}
	m.ValidationTimeouts.Add(ctx, 1)
}

// ExecutionStalled counts a run failed by the idle timeout.
func (m *Metrics) ExecutionStalled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ExecutionStalls.Add(ctx, 1)
}

// ExecutionFinished records the duration of a terminal run.
func (m *Metrics) ExecutionFinished(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.ExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
