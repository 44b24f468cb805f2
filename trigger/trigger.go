// Package trigger computes job fire times. A Trigger is a pure policy:
// given the previous fire time and the current time it yields the next
// fire time, or reports that the schedule is exhausted. Triggers carry no
// mutable state and may be shared between goroutines.
package trigger

import (
	"fmt"
	"time"
)

// Trigger is the scheduling policy attached to a job.
type Trigger interface {
	// Next returns the fire time following prev. A zero prev means the
	// job has never fired. The second return value is false when the
	// schedule is exhausted. Next must be deterministic, side-effect
	// free, and must never move backward relative to now for a zero
	// prev.
	Next(prev, now time.Time) (time.Time, bool)

	// Spec returns the serializable description of this trigger.
	Spec() Spec
}

// Trigger kind names used in Spec and in configuration.
const (
	KindInterval = "interval"
	KindCron     = "cron"
	KindDate     = "date"
)

// Spec is the serializable description of a trigger, used by persistent
// stores to round-trip job definitions.
type Spec struct {
	Kind     string        `json:"kind" msgpack:"kind"`
	Interval time.Duration `json:"interval,omitempty" msgpack:"interval,omitempty"`
	Start    time.Time     `json:"start,omitempty" msgpack:"start,omitempty"`
	End      time.Time     `json:"end,omitempty" msgpack:"end,omitempty"`
	Expr     string        `json:"expr,omitempty" msgpack:"expr,omitempty"`
	Location string        `json:"location,omitempty" msgpack:"location,omitempty"`
	RunAt    time.Time     `json:"run_at,omitempty" msgpack:"run_at,omitempty"`
}

// FromSpec restores a trigger equivalent to the one s describes.
func FromSpec(s Spec) (Trigger, error) {
	switch s.Kind {
	case KindInterval:
		opts := make([]IntervalOption, 0, 2)
		if !s.Start.IsZero() {
			opts = append(opts, WithStart(s.Start))
		}
		if !s.End.IsZero() {
			opts = append(opts, WithEnd(s.End))
		}
		return NewInterval(s.Interval, opts...)
	case KindCron:
		opts := make([]CronOption, 0, 2)
		if s.Location != "" {
			loc, err := time.LoadLocation(s.Location)
			if err != nil {
				return nil, fmt.Errorf("trigger: load location %q: %w", s.Location, err)
			}
			opts = append(opts, WithLocation(loc))
		}
		if !s.End.IsZero() {
			opts = append(opts, WithCronEnd(s.End))
		}
		return NewCron(s.Expr, opts...)
	case KindDate:
		return NewDate(s.RunAt), nil
	default:
		return nil, fmt.Errorf("trigger: unknown kind %q", s.Kind)
	}
}
