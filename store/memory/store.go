// Package memory provides the in-process job store. It keeps jobs in a
// slice ordered by next run time with an id index beside it, so due
// queries are a prefix scan and lookups are constant time.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
)

type entry struct {
	job     *job.Job
	runTime *time.Time
}

// Store is the in-process store. Jobs vanish with the process; it is
// the default backend and the only one with zero external dependencies.
type Store struct {
	mu      sync.RWMutex
	ordered []entry
	index   map[string]*job.Job
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-process store.
func New() *Store {
	return &Store{index: make(map[string]*job.Job)}
}

// Start implements store.Store.
func (s *Store) Start(ctx context.Context, alias string) error { return nil }

// Shutdown implements store.Store and drops all jobs.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordered = nil
	s.index = make(map[string]*job.Job)
	return nil
}

// AddJob implements store.Store.
func (s *Store) AddJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[j.ID]; ok {
		return fmt.Errorf("%w: %q", asyncz.ErrConflictingID, j.ID)
	}

	jc := j.Clone()
	i := s.insertionPoint(jc.NextRunTime, jc.ID)
	s.ordered = append(s.ordered, entry{})
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = entry{job: jc, runTime: jc.NextRunTime}
	s.index[jc.ID] = jc
	return nil
}

// UpdateJob implements store.Store. The job is removed from and
// reinserted into the ordered slice so a changed next run time keeps
// the ordering intact.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.index[j.ID]
	if !ok {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, j.ID)
	}
	s.removeOrdered(old.NextRunTime, old.ID)

	jc := j.Clone()
	i := s.insertionPoint(jc.NextRunTime, jc.ID)
	s.ordered = append(s.ordered, entry{})
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = entry{job: jc, runTime: jc.NextRunTime}
	s.index[jc.ID] = jc
	return nil
}

// RemoveJob implements store.Store.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}
	s.removeOrdered(old.NextRunTime, id)
	delete(s.index, id)
	return nil
}

// RemoveAllJobs implements store.Store.
func (s *Store) RemoveAllJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordered = nil
	s.index = make(map[string]*job.Job)
	return nil
}

// LookupJob implements store.Store.
func (s *Store) LookupJob(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}
	return j.Clone(), nil
}

// GetDueJobs implements store.Store.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*job.Job
	for _, e := range s.ordered {
		if e.runTime == nil || e.runTime.After(now) {
			break
		}
		due = append(due, e.job.Clone())
	}
	return due, nil
}

// GetAllJobs implements store.Store.
func (s *Store) GetAllJobs(ctx context.Context) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*job.Job, len(s.ordered))
	for i, e := range s.ordered {
		jobs[i] = e.job.Clone()
	}
	return jobs, nil
}

// GetNextRunTime implements store.Store.
func (s *Store) GetNextRunTime(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ordered) == 0 || s.ordered[0].runTime == nil {
		return time.Time{}, nil
	}
	return *s.ordered[0].runTime, nil
}

// insertionPoint returns the index where a job with the given run time
// and id slots into the ordered slice. Paused jobs (nil run time) sort
// after every scheduled job; ties break on id for a stable order.
func (s *Store) insertionPoint(runTime *time.Time, id string) int {
	return sort.Search(len(s.ordered), func(i int) bool {
		return !entryLess(s.ordered[i].runTime, s.ordered[i].job.ID, runTime, id)
	})
}

// removeOrdered drops the entry for id, locating it by binary search on
// its stored run time.
func (s *Store) removeOrdered(runTime *time.Time, id string) {
	i := s.insertionPoint(runTime, id)
	if i < len(s.ordered) && s.ordered[i].job.ID == id {
		s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
	}
}

func entryLess(aTime *time.Time, aID string, bTime *time.Time, bID string) bool {
	switch {
	case aTime == nil && bTime == nil:
		return aID < bID
	case aTime == nil:
		return false
	case bTime == nil:
		return true
	case !aTime.Equal(*bTime):
		return aTime.Before(*bTime)
	default:
		return aID < bID
	}
}
