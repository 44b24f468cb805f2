package trigger

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s" or "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Cron fires on a cron expression, evaluated in a configurable location.
type Cron struct {
	expr     string
	schedule cronlib.Schedule
	loc      *time.Location
	end      time.Time
}

// CronOption configures a Cron trigger.
type CronOption func(*Cron)

// WithLocation sets the location the expression is evaluated in.
// Defaults to time.Local.
func WithLocation(loc *time.Location) CronOption {
	return func(c *Cron) { c.loc = loc }
}

// WithCronEnd exhausts the schedule after t.
func WithCronEnd(t time.Time) CronOption {
	return func(c *Cron) { c.end = t }
}

// NewCron parses expr and creates a cron trigger.
func NewCron(expr string, opts ...CronOption) (*Cron, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("trigger: parse cron %q: %w", expr, err)
	}
	c := &Cron{
		expr:     expr,
		schedule: schedule,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustCron is NewCron that panics on error, for static schedules.
func MustCron(expr string, opts ...CronOption) *Cron {
	c, err := NewCron(expr, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Next implements Trigger. The fire time following a non-zero prev is the
// first cron activation strictly after prev, so overdue activations are
// surfaced one at a time for the misfire policy to judge.
func (c *Cron) Next(prev, now time.Time) (time.Time, bool) {
	base := prev
	if base.IsZero() {
		base = now
	}

	next := c.schedule.Next(base.In(c.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	if !c.end.IsZero() && next.After(c.end) {
		return time.Time{}, false
	}
	return next, true
}

// Spec implements Trigger.
func (c *Cron) Spec() Spec {
	return Spec{
		Kind:     KindCron,
		Expr:     c.expr,
		Location: c.loc.String(),
		End:      c.end,
	}
}

func (c *Cron) String() string {
	return fmt.Sprintf("cron[%s]", c.expr)
}
