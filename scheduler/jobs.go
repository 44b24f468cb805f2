package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/id"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
	"github.com/devkral/asyncz/trigger"
)

// AddJob schedules a new job for the registered task. On a running
// scheduler the job is persisted immediately; on a stopped one it is
// held and flushed by Start. The returned job is a snapshot.
func (s *Scheduler) AddJob(ctx context.Context, task string, trg trigger.Trigger, opts ...job.Option) (*job.Job, error) {
	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Err != nil {
		return nil, o.Err
	}
	if _, ok := s.registry.Get(task); !ok {
		return nil, fmt.Errorf("%w: %q", asyncz.ErrTaskNotFound, task)
	}
	if trg == nil {
		return nil, fmt.Errorf("%w: job needs a trigger", asyncz.ErrBadSettings)
	}

	j := &job.Job{
		ID:            o.ID,
		Task:          task,
		Name:          o.Name,
		Payload:       o.Payload,
		Trigger:       trg,
		MaxInstances:  s.defaults.MaxInstances,
		MisfireGrace:  s.defaults.MisfireGrace,
		Coalesce:      s.defaults.Coalesce,
		StoreAlias:    o.StoreAlias,
		ExecutorAlias: o.ExecutorAlias,
	}
	if j.ID == "" {
		j.ID = id.NewJobID()
	}
	if j.Name == "" {
		j.Name = task
	}
	if o.MaxInstances != nil {
		if *o.MaxInstances < 1 {
			return nil, fmt.Errorf("%w: max instances must be >= 1", asyncz.ErrBadSettings)
		}
		j.MaxInstances = *o.MaxInstances
	}
	if o.MisfireGrace != nil {
		j.MisfireGrace = *o.MisfireGrace
	}
	if o.Coalesce != nil {
		j.Coalesce = *o.Coalesce
	}
	if j.StoreAlias == "" {
		j.StoreAlias = DefaultAlias
	}
	if j.ExecutorAlias == "" {
		j.ExecutorAlias = DefaultAlias
	}
	if !o.Paused && o.NextRunTime != nil {
		t := *o.NextRunTime
		j.NextRunTime = &t
	}
	// A paused job keeps a nil next run time; otherwise the trigger's
	// first fire time is computed when the job reaches its store, so
	// jobs held on a stopped scheduler are not stale by Start.
	computeNext := !o.Paused && o.NextRunTime == nil

	s.mu.Lock()
	if s.state == stateStopped {
		s.pending = append(s.pending, pendingJob{job: j.Clone(), replace: o.ReplaceExisting, paused: o.Paused})
		s.mu.Unlock()
		s.logger.Info("job held until scheduler start", slog.String("job_id", j.ID))
		return j.Clone(), nil
	}
	s.mu.Unlock()

	if computeNext {
		s.computeFirstRunTime(j)
	}
	if err := s.storeJob(ctx, j, o.ReplaceExisting); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

func (s *Scheduler) computeFirstRunTime(j *job.Job) {
	if next, ok := j.Trigger.Next(time.Time{}, s.now()); ok {
		j.NextRunTime = &next
	}
}

// storeJob validates the job's aliases, persists it and announces it.
func (s *Scheduler) storeJob(ctx context.Context, j *job.Job, replace bool) error {
	s.mu.RLock()
	st, ok := s.stores[j.StoreAlias]
	_, exOK := s.executors[j.ExecutorAlias]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", asyncz.ErrUnknownStore, j.StoreAlias)
	}
	if !exOK {
		return fmt.Errorf("%w: %q", asyncz.ErrUnknownExecutor, j.ExecutorAlias)
	}

	err := st.AddJob(ctx, j)
	if errors.Is(err, asyncz.ErrConflictingID) && replace {
		err = st.UpdateJob(ctx, j)
	}
	if err != nil {
		return err
	}

	s.DispatchEvent(event.Event{Code: event.JobAdded, JobID: j.ID, StoreAlias: j.StoreAlias})
	s.logger.Info("job added",
		slog.String("job_id", j.ID),
		slog.String("task", j.Task),
		slog.String("store", j.StoreAlias),
	)
	s.notifyWakeup()
	return nil
}

// ModifyJob applies mutate to the stored job and persists the result.
// The job id cannot be changed.
func (s *Scheduler) ModifyJob(ctx context.Context, jobID string, mutate func(*job.Job) error) (*job.Job, error) {
	j, st, err := s.lookupJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(j); err != nil {
		return nil, err
	}
	j.ID = jobID

	if st != nil {
		if err := st.UpdateJob(ctx, j); err != nil {
			return nil, err
		}
	}
	s.DispatchEvent(event.Event{Code: event.JobModified, JobID: j.ID, StoreAlias: j.StoreAlias})
	s.notifyWakeup()
	return j.Clone(), nil
}

// RescheduleJob swaps the job's trigger and recomputes its next run
// time from now.
func (s *Scheduler) RescheduleJob(ctx context.Context, jobID string, trg trigger.Trigger) (*job.Job, error) {
	if trg == nil {
		return nil, fmt.Errorf("%w: job needs a trigger", asyncz.ErrBadSettings)
	}
	return s.ModifyJob(ctx, jobID, func(j *job.Job) error {
		j.Trigger = trg
		j.NextRunTime = nil
		if next, ok := trg.Next(time.Time{}, s.now()); ok {
			j.NextRunTime = &next
		}
		return nil
	})
}

// PauseJob clears the job's next run time so it stops firing until
// resumed.
func (s *Scheduler) PauseJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.ModifyJob(ctx, jobID, func(j *job.Job) error {
		j.NextRunTime = nil
		return nil
	})
}

// ResumeJob recomputes the job's next run time from now. A job whose
// schedule is already exhausted is removed instead.
func (s *Scheduler) ResumeJob(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := s.ModifyJob(ctx, jobID, func(j *job.Job) error {
		if next, ok := j.Trigger.Next(time.Time{}, s.now()); ok {
			j.NextRunTime = &next
		} else {
			j.NextRunTime = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if j.NextRunTime == nil {
		if err := s.RemoveJob(ctx, jobID); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// RemoveJob deletes the job from whichever store holds it, or from the
// pending set when the scheduler is stopped.
func (s *Scheduler) RemoveJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if s.state == stateStopped {
		for i, p := range s.pending {
			if p.job.ID == jobID {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				s.mu.Unlock()
				return nil
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, jobID)
	}
	stores := s.storeSnapshot()
	s.mu.Unlock()

	for _, entry := range stores {
		err := entry.store.RemoveJob(ctx, jobID)
		if errors.Is(err, asyncz.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		s.DispatchEvent(event.Event{Code: event.JobRemoved, JobID: jobID, StoreAlias: entry.alias})
		s.logger.Info("job removed", slog.String("job_id", jobID), slog.String("store", entry.alias))
		return nil
	}
	return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, jobID)
}

// RemoveAllJobs clears one store, or every store when alias is empty.
func (s *Scheduler) RemoveAllJobs(ctx context.Context, alias string) error {
	s.mu.RLock()
	var targets []storeEntry
	if alias != "" {
		st, ok := s.stores[alias]
		if !ok {
			s.mu.RUnlock()
			return asyncz.ErrUnknownStore
		}
		targets = []storeEntry{{alias: alias, store: st}}
	} else {
		targets = s.storeSnapshot()
	}
	s.mu.RUnlock()

	for _, entry := range targets {
		if err := entry.store.RemoveAllJobs(ctx); err != nil {
			return err
		}
		s.DispatchEvent(event.Event{Code: event.AllJobsRemoved, Alias: entry.alias})
	}
	return nil
}

// GetJob returns a snapshot of the job with the given id, searching the
// pending set and every store.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	j, _, err := s.lookupJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// GetJobs returns snapshots of every known job: pending jobs first on a
// stopped scheduler, then each store's jobs in next-run-time order.
func (s *Scheduler) GetJobs(ctx context.Context) ([]*job.Job, error) {
	s.mu.RLock()
	var jobs []*job.Job
	if s.state == stateStopped {
		for _, p := range s.pending {
			jobs = append(jobs, p.job.Clone())
		}
	}
	stores := s.storeSnapshot()
	s.mu.RUnlock()

	for _, entry := range stores {
		stored, err := entry.store.GetAllJobs(ctx)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, stored...)
	}
	return jobs, nil
}

type storeEntry struct {
	alias string
	store store.Store
}

// storeSnapshot copies the store map so iteration happens outside the
// lock. Callers hold s.mu.
func (s *Scheduler) storeSnapshot() []storeEntry {
	entries := make([]storeEntry, 0, len(s.stores))
	for alias, st := range s.stores {
		entries = append(entries, storeEntry{alias: alias, store: st})
	}
	return entries
}

// lookupJob finds a job by id across pending jobs and stores. The
// returned store is nil for pending jobs.
func (s *Scheduler) lookupJob(ctx context.Context, jobID string) (*job.Job, store.Store, error) {
	s.mu.RLock()
	if s.state == stateStopped {
		for _, p := range s.pending {
			if p.job.ID == jobID {
				s.mu.RUnlock()
				return p.job, nil, nil
			}
		}
	}
	stores := s.storeSnapshot()
	s.mu.RUnlock()

	for _, entry := range stores {
		j, err := entry.store.LookupJob(ctx, jobID)
		if errors.Is(err, asyncz.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		j.StoreAlias = entry.alias
		return j, entry.store, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, jobID)
}

func (s *Scheduler) now() time.Time {
	return time.Now().In(s.loc)
}
