package executor

import (
	"sync"

	"github.com/devkral/asyncz"
)

// ledger counts in-flight invocations per job id. Each executor owns
// one ledger; the per-job ceiling is still engine-wide because every job
// routes to a single executor alias, so all of its invocations pass
// through the same ledger. Updates must be atomic relative to concurrent
// SendJob calls.
type ledger struct {
	mu     sync.Mutex
	counts map[string]int
}

func newLedger() *ledger {
	return &ledger{counts: make(map[string]int)}
}

// acquire reserves units slots for jobID, failing with MaxInstancesError
// when the reservation would exceed limit. Nothing is reserved on
// failure.
func (l *ledger) acquire(jobID string, units, limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[jobID]+units > limit {
		return &asyncz.MaxInstancesError{JobID: jobID, Limit: limit}
	}
	l.counts[jobID] += units
	return nil
}

// release returns units slots for jobID. The entry disappears when the
// count returns to zero so the ledger stays bounded by the number of
// jobs actually in flight.
func (l *ledger) release(jobID string, units int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[jobID] -= units
	if l.counts[jobID] <= 0 {
		delete(l.counts, jobID)
	}
}

// inFlight returns the current count for jobID.
func (l *ledger) inFlight(jobID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[jobID]
}
