package middleware

import (
	"context"
	"time"

	"github.com/devkral/asyncz/job"
)

// Timeout returns middleware that enforces an execution deadline on
// every run passing through it. When the deadline is exceeded the
// context is cancelled and the handler should return
// context.DeadlineExceeded. A non-positive d disables the middleware.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) (any, error) {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
