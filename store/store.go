// Package store defines the persistence plugin contract for scheduled
// jobs. A store holds job state keyed by id, ordered by next run time,
// and answers the two queries the scheduler's wakeup loop lives on:
// which jobs are due, and when the next one fires.
package store

import (
	"context"
	"time"

	"github.com/devkral/asyncz/job"
)

// Store is the persistence backend contract. Implementations must be
// safe for concurrent use; the scheduler calls into the store from its
// wakeup loop and from API methods on arbitrary goroutines.
//
// Jobs with no next run time are paused: they sort after every
// scheduled job, are never due, and never contribute to
// GetNextRunTime.
type Store interface {
	// Start prepares the store for use under the given alias. Called by
	// the scheduler when it starts or when the store is added to a
	// running scheduler.
	Start(ctx context.Context, alias string) error

	// Shutdown releases the store's resources. Jobs persist across
	// Shutdown for backends with durable state.
	Shutdown(ctx context.Context) error

	// AddJob persists a new job. Fails with ErrConflictingID when a job
	// with the same id already exists.
	AddJob(ctx context.Context, j *job.Job) error

	// UpdateJob replaces the stored job with the same id. Fails with
	// ErrJobNotFound when no such job exists.
	UpdateJob(ctx context.Context, j *job.Job) error

	// RemoveJob deletes the job with the given id. Fails with
	// ErrJobNotFound when no such job exists.
	RemoveJob(ctx context.Context, id string) error

	// RemoveAllJobs deletes every job in the store.
	RemoveAllJobs(ctx context.Context) error

	// LookupJob returns the job with the given id, or ErrJobNotFound.
	LookupJob(ctx context.Context, id string) (*job.Job, error)

	// GetDueJobs returns every job whose next run time is at or before
	// now, ordered by next run time ascending.
	GetDueJobs(ctx context.Context, now time.Time) ([]*job.Job, error)

	// GetAllJobs returns every stored job ordered by next run time
	// ascending, paused jobs last.
	GetAllJobs(ctx context.Context) ([]*job.Job, error)

	// GetNextRunTime returns the earliest next run time across the
	// store, or the zero time when no job is scheduled.
	GetNextRunTime(ctx context.Context) (time.Time, error)
}
