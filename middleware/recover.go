package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/devkral/asyncz/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (value any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("task", j.Task),
					slog.String("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				value = nil
				retErr = fmt.Errorf("panic in task %s: %v", j.Task, r)
			}
		}()
		return next(ctx)
	}
}
