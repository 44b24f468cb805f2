package trigger

import (
	"fmt"
	"time"
)

// Date fires exactly once. A zero run time means "as soon as possible":
// the first Next call resolves it to now.
type Date struct {
	runAt time.Time
}

// NewDate creates a one-shot trigger firing at t.
func NewDate(t time.Time) *Date {
	return &Date{runAt: t}
}

// Next implements Trigger.
func (d *Date) Next(prev, now time.Time) (time.Time, bool) {
	if !prev.IsZero() {
		return time.Time{}, false
	}
	if d.runAt.IsZero() {
		return now, true
	}
	return d.runAt, true
}

// Spec implements Trigger.
func (d *Date) Spec() Spec {
	return Spec{Kind: KindDate, RunAt: d.runAt}
}

func (d *Date) String() string {
	return fmt.Sprintf("date[%s]", d.runAt.Format(time.RFC3339))
}
