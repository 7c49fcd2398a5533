package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "opspilot"

// StartPipelineSpan starts the root span of one pipeline.
func StartPipelineSpan(ctx context.Context, correlationID, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("pipeline.correlation_id", correlationID),
			attribute.String("pipeline.conversation_id", conversationID),
		),
	)
}

// StartStageSpan starts a span for one stage (classify, validate, execute).
func StartStageSpan(ctx context.Context, stage, correlationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, stage,
		trace.WithAttributes(attribute.String("pipeline.correlation_id", correlationID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
