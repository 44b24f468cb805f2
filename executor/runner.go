package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// invokeFunc runs a job's handler for one run time. Substrates provide
// either the in-process variant (base.invokeLocal) or the subprocess
// variant.
type invokeFunc func(ctx context.Context, j *job.Job, runTime time.Time) (any, error)

// runBatch applies the shared per-run-time policy and returns exactly
// one event per run time in the batch:
//
//   - run times older than the job's misfire grace are reported missed
//     and the handler is not invoked;
//   - a normal return is reported executed, carrying the return value;
//   - an error or panic is reported as an error event with a formatted
//     stack trace, never re-raised, and processing continues with the
//     next run time.
//
// Nothing handler-local survives the batch: the events are the only
// output.
func runBatch(ctx context.Context, j *job.Job, runTimes []time.Time, invoke invokeFunc, logger *slog.Logger) []event.Event {
	events := make([]event.Event, 0, len(runTimes))

	for _, runTime := range runTimes {
		if j.MisfireGrace > 0 {
			if late := time.Since(runTime); late > j.MisfireGrace {
				logger.Warn("run time missed",
					slog.String("job_id", j.ID),
					slog.Time("run_time", runTime),
					slog.Duration("late", late),
				)
				events = append(events, event.Event{
					Code:       event.JobMissed,
					JobID:      j.ID,
					StoreAlias: j.StoreAlias,
					RunTime:    runTime,
				})
				continue
			}
		}

		logger.Debug("running job",
			slog.String("job_id", j.ID),
			slog.String("task", j.Task),
			slog.Time("run_time", runTime),
		)

		value, trace, err := safeInvoke(ctx, j, runTime, invoke)
		if err != nil {
			events = append(events, event.Event{
				Code:       event.JobError,
				JobID:      j.ID,
				StoreAlias: j.StoreAlias,
				RunTime:    runTime,
				Err:        err,
				Traceback:  trace,
			})
			logger.Error("job raised an error",
				slog.String("job_id", j.ID),
				slog.String("task", j.Task),
				slog.String("error", err.Error()),
			)
			continue
		}

		events = append(events, event.Event{
			Code:        event.JobExecuted,
			JobID:       j.ID,
			StoreAlias:  j.StoreAlias,
			RunTime:     runTime,
			ReturnValue: value,
		})
	}

	return events
}

// safeInvoke runs invoke, converting panics into errors. The trace is
// captured where the failure is observed and is never empty when err is
// non-nil.
func safeInvoke(ctx context.Context, j *job.Job, runTime time.Time, invoke invokeFunc) (value any, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("panic in task %s: %v", j.Task, r)
			trace = string(debug.Stack())
		}
	}()

	value, err = invoke(ctx, j, runTime)
	if err != nil {
		trace = string(debug.Stack())
	}
	return value, trace, err
}
