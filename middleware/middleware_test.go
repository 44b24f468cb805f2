package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/middleware"
	"github.com/devkral/asyncz/trigger"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:            "job_mw_test",
		Task:          "greet",
		Trigger:       trigger.MustInterval(time.Minute),
		MaxInstances:  1,
		StoreAlias:    "default",
		ExecutorAlias: "default",
	}
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
			order = append(order, name+" in")
			v, err := next(ctx)
			order = append(order, name+" out")
			return v, err
		}
	}

	chain := middleware.Chain(tag("outer"), tag("inner"))
	v, err := chain(context.Background(), newTestJob(), func(context.Context) (any, error) {
		order = append(order, "handler")
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "result" {
		t.Fatalf("value = %v", v)
	}

	want := []string{"outer in", "inner in", "handler", "inner out", "outer out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	m := middleware.Recover(slog.Default())

	v, err := m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		panic("handler bug")
	})
	if v != nil {
		t.Fatalf("value = %v, want nil", v)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRecover_PassesThroughSuccess(t *testing.T) {
	m := middleware.Recover(slog.Default())

	v, err := m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 {
		t.Fatalf("value = %v", v)
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	m := middleware.Timeout(20 * time.Millisecond)

	_, err := m(context.Background(), newTestJob(), func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_NonPositiveDisables(t *testing.T) {
	m := middleware.Timeout(0)

	_, err := m(context.Background(), newTestJob(), func(ctx context.Context) (any, error) {
		if _, set := ctx.Deadline(); set {
			t.Fatal("deadline set despite disabled timeout")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	m := middleware.Logging(slog.Default())

	v, err := m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("value = %v, err = %v", v, err)
	}

	wantErr := errors.New("boom")
	_, err = m(context.Background(), newTestJob(), func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}
