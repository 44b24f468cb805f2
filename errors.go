package asyncz

import (
	"errors"
	"fmt"
)

var (
	// Job lookup and identity errors.
	ErrJobNotFound   = errors.New("asyncz: job not found")
	ErrConflictingID = errors.New("asyncz: job id conflicts with an existing job")
	ErrTaskNotFound  = errors.New("asyncz: no handler registered for task")

	// Alias resolution errors. These are raised at registration time,
	// never at dispatch time.
	ErrUnknownStore    = errors.New("asyncz: no store registered under alias")
	ErrUnknownExecutor = errors.New("asyncz: no executor registered under alias")
	ErrAliasInUse      = errors.New("asyncz: alias already registered")

	// Scheduler state errors.
	ErrSchedulerRunning = errors.New("asyncz: scheduler is already running")
	ErrSchedulerStopped = errors.New("asyncz: scheduler is not running")

	// Executor lifecycle errors.
	ErrExecutorNotStarted = errors.New("asyncz: executor has not been started")
	ErrExecutorStopped    = errors.New("asyncz: executor has been shut down")
	ErrQueueFull          = errors.New("asyncz: executor queue is full")

	// Configuration errors.
	ErrBadSettings = errors.New("asyncz: invalid settings")
)

// MaxInstancesError is returned synchronously by an executor's SendJob when
// admitting a batch of run times would exceed the job's concurrency ceiling.
// The affected run times are dropped for the cycle and never retried.
type MaxInstancesError struct {
	JobID string
	Limit int
}

func (e *MaxInstancesError) Error() string {
	return fmt.Sprintf("asyncz: job %q reached its maximum number of instances (%d)", e.JobID, e.Limit)
}

// IsMaxInstances reports whether err is a MaxInstancesError.
func IsMaxInstances(err error) bool {
	var me *MaxInstancesError
	return errors.As(err, &me)
}
