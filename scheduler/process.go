package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// run is the wakeup loop. Each iteration dispatches everything due and
// then sleeps until the earliest next run time, a poke on the wakeup
// channel, or shutdown, whichever comes first.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Consecutive failure count per store alias, feeding the retry
	// backoff. Reset on the first successful poll.
	attempts := make(map[string]int)

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		wait, bounded := s.processJobs(ctx, attempts)

		if bounded {
			timer.Reset(wait)
			select {
			case <-s.stopCh:
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-s.wakeup:
				if !timer.Stop() {
					<-timer.C
				}
			case <-timer.C:
			}
		} else {
			select {
			case <-s.stopCh:
				return
			case <-s.wakeup:
			}
		}
	}
}

// processJobs runs one dispatch cycle and returns how long to sleep.
// The second return is false when nothing is scheduled and the loop
// should block until poked.
func (s *Scheduler) processJobs(ctx context.Context, attempts map[string]int) (time.Duration, bool) {
	s.mu.RLock()
	paused := s.state != stateRunning
	stores := s.storeSnapshot()
	s.mu.RUnlock()

	if paused {
		return 0, false
	}

	now := s.now()
	var (
		wait    time.Duration
		bounded bool
	)
	shorten := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if !bounded || d < wait {
			wait, bounded = d, true
		}
	}

	for _, entry := range stores {
		due, err := entry.store.GetDueJobs(ctx, now)
		if err != nil {
			attempts[entry.alias]++
			delay := s.retry.Delay(attempts[entry.alias])
			s.logger.Warn("store failed to provide due jobs, retrying",
				slog.String("store", entry.alias),
				slog.Int("attempt", attempts[entry.alias]),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			shorten(delay)
			continue
		}
		delete(attempts, entry.alias)

		for _, j := range due {
			j.StoreAlias = entry.alias
			s.dispatchJob(ctx, entry, j, now)
		}

		next, err := entry.store.GetNextRunTime(ctx)
		if err != nil {
			s.logger.Warn("store failed to provide next run time",
				slog.String("store", entry.alias),
				slog.String("error", err.Error()),
			)
			shorten(s.retry.Delay(1))
			continue
		}
		if !next.IsZero() {
			shorten(next.Sub(s.now()))
		}
	}

	return wait, bounded
}

// dispatchJob sends one due job to its executor and advances or retires
// its schedule. Dispatch failures never stall the cycle; the affected
// run times are simply dropped.
func (s *Scheduler) dispatchJob(ctx context.Context, entry storeEntry, j *job.Job, now time.Time) {
	s.mu.RLock()
	ex, ok := s.executors[j.ExecutorAlias]
	s.mu.RUnlock()

	if !ok {
		s.logger.Error("job routes to an unknown executor, removing it",
			slog.String("job_id", j.ID),
			slog.String("executor", j.ExecutorAlias),
		)
		if err := entry.store.RemoveJob(ctx, j.ID); err != nil {
			s.logger.Error("failed to remove orphaned job",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.DispatchEvent(event.Event{Code: event.JobRemoved, JobID: j.ID, StoreAlias: entry.alias})
		return
	}

	runTimes := j.RunTimes(now)
	if len(runTimes) == 0 {
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
	}

	switch err := ex.SendJob(j, runTimes); {
	case err == nil:
		s.DispatchEvent(event.Event{
			Code:              event.JobSubmitted,
			JobID:             j.ID,
			StoreAlias:        entry.alias,
			ScheduledRunTimes: runTimes,
		})
	case asyncz.IsMaxInstances(err):
		s.logger.Warn("job skipped: maximum instances reached",
			slog.String("job_id", j.ID),
			slog.Int("max_instances", j.MaxInstances),
		)
		s.DispatchEvent(event.Event{
			Code:              event.JobMaxInstances,
			JobID:             j.ID,
			StoreAlias:        entry.alias,
			ScheduledRunTimes: runTimes,
		})
	default:
		s.logger.Error("failed to submit job",
			slog.String("job_id", j.ID),
			slog.String("executor", j.ExecutorAlias),
			slog.String("error", err.Error()),
		)
	}

	// The schedule advances past the dispatched run times whether or
	// not the submission succeeded; a run time is processed once.
	last := runTimes[len(runTimes)-1]
	if next, ok := j.Trigger.Next(last, now); ok {
		j.NextRunTime = &next
		if err := entry.store.UpdateJob(ctx, j); err != nil {
			s.logger.Error("failed to advance job schedule",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	// Schedule exhausted.
	if err := entry.store.RemoveJob(ctx, j.ID); err != nil {
		s.logger.Error("failed to retire finished job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.DispatchEvent(event.Event{Code: event.JobRemoved, JobID: j.ID, StoreAlias: entry.alias})
	s.logger.Info("job schedule exhausted, removed",
		slog.String("job_id", j.ID),
	)
}
