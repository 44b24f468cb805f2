package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/devkral/asyncz/middleware"
)

func setupTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return exporter, tp
}

func TestTracing_RecordsSpan(t *testing.T) {
	exporter, tp := setupTestTracer()
	m := middleware.TracingWithTracer(tp.Tracer("test"))

	_, err := m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "asyncz.job.run" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("span status = %v", spans[0].Status)
	}
}

func TestTracing_MarksErrorStatus(t *testing.T) {
	exporter, tp := setupTestTracer()
	m := middleware.TracingWithTracer(tp.Tracer("test"))

	if _, err := m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Fatal("expected error to pass through")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("span status = %v, want error", spans[0].Status)
	}
}
