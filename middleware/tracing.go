package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog/job"
)

const tracerName = "github.com/xraph/backlog"

// Tracing wraps each attempt in a span from the global TracerProvider.
//
// Span attributes: backlog.job.id, backlog.job.name, backlog.queue,
// backlog.attempt, backlog.max_attempts.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "backlog.job.run",
			trace.WithAttributes(
				attribute.String("backlog.job.id", j.ID),
				attribute.String("backlog.job.name", j.Name),
				attribute.String("backlog.queue", j.Queue),
				attribute.Int("backlog.attempt", j.Attempts),
				attribute.Int("backlog.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
