// Package event defines the immutable outcome records produced by the
// engine and the dispatcher that fans them out to listeners.
package event

import "time"

// Code identifies an event type. Codes are bit flags so listener masks
// can select several types with a bitwise OR.
type Code uint32

const (
	SchedulerStarted Code = 1 << iota
	SchedulerShutdown
	SchedulerPaused
	SchedulerResumed
	ExecutorAdded
	ExecutorRemoved
	StoreAdded
	StoreRemoved
	AllJobsRemoved
	JobAdded
	JobRemoved
	JobModified
	JobSubmitted
	JobMaxInstances
	JobExecuted
	JobError
	JobMissed

	// All matches every event code.
	All Code = 1<<iota - 1
)

// JobOutcomes matches the per-run-time outcome events.
const JobOutcomes = JobExecuted | JobError | JobMissed

// Event is an immutable record of something that happened in the engine.
// Which fields are populated depends on Code: outcome events (executed,
// error, missed) carry JobID, StoreAlias and RunTime; executed events
// additionally carry ReturnValue; error events carry Err and Traceback;
// submission events carry ScheduledRunTimes. Construct once, never
// mutate.
type Event struct {
	Code Code

	// Alias names the store or executor a lifecycle event refers to.
	Alias string

	// JobID and StoreAlias identify the job for job-scoped events.
	JobID      string
	StoreAlias string

	// RunTime is the scheduled time of the processed run.
	RunTime time.Time

	// ScheduledRunTimes lists the batch of a submission event.
	ScheduledRunTimes []time.Time

	// ReturnValue is the handler's result. Executed events only.
	ReturnValue any

	// Err and Traceback describe a handler failure. Error events only.
	// Traceback is a formatted stack trace, never empty on error events.
	Err       error
	Traceback string
}
