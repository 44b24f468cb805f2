package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/devkral/asyncz/job"
)

// Logging returns middleware that logs run start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		logger.Info("job started",
			slog.String("task", j.Task),
			slog.String("job_id", j.ID),
			slog.String("store", j.StoreAlias),
		)

		start := time.Now()
		value, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("task", j.Task),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("task", j.Task),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return value, err
	}
}
