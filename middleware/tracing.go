package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devkral/asyncz/job"
)

// tracerName is the instrumentation scope name for asyncz tracing.
const tracerName = "github.com/devkral/asyncz"

// Tracing returns middleware that wraps each run in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: asyncz.job.id, asyncz.job.task,
// asyncz.job.store. On error, the span status is set to codes.Error
// with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "asyncz.job.run",
			trace.WithAttributes(
				attribute.String("asyncz.job.id", j.ID),
				attribute.String("asyncz.job.task", j.Task),
				attribute.String("asyncz.job.store", j.StoreAlias),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		value, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return value, err
	}
}
