package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/devkral/asyncz/job"
)

// meterName is the instrumentation scope name for asyncz metrics.
const meterName = "github.com/devkral/asyncz"

// Metrics returns middleware that records per-run execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - asyncz.job.duration (Float64Histogram): execution time in seconds,
//     with attributes: task, store, status ("ok" or "error")
//   - asyncz.job.runs (Int64Counter): total runs,
//     with attributes: task, store, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time. OTel
	// instruments are safe for concurrent use; on error the API returns
	// noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"asyncz.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	runs, rErr := meter.Int64Counter(
		"asyncz.job.runs",
		metric.WithDescription("Total number of job runs"),
		metric.WithUnit("{run}"),
	)
	_ = rErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		start := time.Now()
		value, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("task", j.Task),
			attribute.String("store", j.StoreAlias),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return value, err
	}
}
