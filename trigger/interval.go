package trigger

import (
	"fmt"
	"time"
)

// Interval fires at a fixed period. With no previous fire time the first
// fire is now, the configured start time, or the first period boundary
// after now when the start time lies in the past (phase alignment). With
// a previous fire time the next fire is prev + interval, which may be in
// the past; overdue fire times are the scheduler's misfire policy to
// resolve, not the trigger's.
type Interval struct {
	interval time.Duration
	start    time.Time
	end      time.Time
}

// IntervalOption configures an Interval trigger.
type IntervalOption func(*Interval)

// WithStart sets the earliest fire time and the phase anchor.
func WithStart(t time.Time) IntervalOption {
	return func(i *Interval) { i.start = t }
}

// WithEnd exhausts the schedule after t.
func WithEnd(t time.Time) IntervalOption {
	return func(i *Interval) { i.end = t }
}

// NewInterval creates an interval trigger. The interval must be positive.
func NewInterval(interval time.Duration, opts ...IntervalOption) (*Interval, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("trigger: interval must be positive, got %v", interval)
	}
	i := &Interval{interval: interval}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// MustInterval is NewInterval that panics on error, for static schedules.
func MustInterval(interval time.Duration, opts ...IntervalOption) *Interval {
	i, err := NewInterval(interval, opts...)
	if err != nil {
		panic(err)
	}
	return i
}

// Next implements Trigger.
func (i *Interval) Next(prev, now time.Time) (time.Time, bool) {
	var next time.Time
	switch {
	case !prev.IsZero():
		next = prev.Add(i.interval)
	case i.start.IsZero():
		next = now
	case i.start.After(now):
		next = i.start
	default:
		elapsed := now.Sub(i.start)
		periods := elapsed / i.interval
		if elapsed%i.interval != 0 {
			periods++
		}
		next = i.start.Add(periods * i.interval)
	}

	if !i.end.IsZero() && next.After(i.end) {
		return time.Time{}, false
	}
	return next, true
}

// Spec implements Trigger.
func (i *Interval) Spec() Spec {
	return Spec{
		Kind:     KindInterval,
		Interval: i.interval,
		Start:    i.start,
		End:      i.end,
	}
}

func (i *Interval) String() string {
	return fmt.Sprintf("interval[%v]", i.interval)
}
