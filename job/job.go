// Package job defines the schedule-entry value type, the handler
// registry that resolves task names to Go functions, and the
// serializable record form used by persistent stores.
package job

import (
	"fmt"
	"time"

	"github.com/devkral/asyncz/trigger"
)

// Job describes one schedule entry. It has pure value semantics: two jobs
// are the same entry iff their IDs are equal within one store. The
// scheduler owns all mutation; everyone else treats a Job as read-only.
type Job struct {
	// ID uniquely identifies the job within its store. Generated when
	// the caller does not supply one.
	ID string

	// Task names the registered handler to invoke.
	Task string

	// Name is a human-readable description. Defaults to Task.
	Name string

	// Payload is the JSON-encoded arguments bound to the handler.
	Payload []byte

	// Trigger computes the fire times.
	Trigger trigger.Trigger

	// MaxInstances bounds concurrent invocations of this job id across
	// all executors. Always >= 1.
	MaxInstances int

	// MisfireGrace is the maximum tolerated delay between a run time
	// and the moment it is processed; beyond it the run time is
	// reported missed instead of executed. Zero means no limit.
	MisfireGrace time.Duration

	// Coalesce collapses a batch of overdue run times into a single
	// invocation using the latest run time.
	Coalesce bool

	// StoreAlias names the store owning this job. Set by the scheduler
	// at registration and used to route post-dispatch updates back.
	StoreAlias string

	// ExecutorAlias names the executor the job is dispatched to.
	ExecutorAlias string

	// NextRunTime is the trigger's last computed value. Nil means the
	// job is paused or the schedule is exhausted.
	NextRunTime *time.Time
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// race the stored value.
func (j *Job) Clone() *Job {
	cp := *j
	if j.NextRunTime != nil {
		t := *j.NextRunTime
		cp.NextRunTime = &t
	}
	if j.Payload != nil {
		cp.Payload = make([]byte, len(j.Payload))
		copy(cp.Payload, j.Payload)
	}
	return &cp
}

// RunTimes expands the fire times that have become due at now, starting
// from NextRunTime and stepping the trigger. The result is ascending and
// empty when nothing is due.
func (j *Job) RunTimes(now time.Time) []time.Time {
	if j.NextRunTime == nil {
		return nil
	}

	var due []time.Time
	t := *j.NextRunTime
	for !t.After(now) {
		due = append(due, t)
		next, ok := j.Trigger.Next(t, now)
		if !ok || !next.After(t) {
			break
		}
		t = next
	}
	return due
}

func (j *Job) String() string {
	if j.Name != "" && j.Name != j.Task {
		return fmt.Sprintf("%s (%s)", j.Name, j.ID)
	}
	return fmt.Sprintf("%s (%s)", j.Task, j.ID)
}
