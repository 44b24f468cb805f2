package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Options collects per-job settings passed to AddJob. Fields left nil
// fall back to the scheduler's job defaults.
type Options struct {
	// ID is the explicit job identifier. Generated when empty.
	ID string

	// Name is a human-readable description.
	Name string

	// Payload is the JSON-encoded handler arguments.
	Payload []byte

	// MisfireGrace, Coalesce and MaxInstances override the scheduler's
	// job defaults when non-nil.
	MisfireGrace *time.Duration
	Coalesce     *bool
	MaxInstances *int

	// StoreAlias and ExecutorAlias route the job. Both default to
	// "default".
	StoreAlias    string
	ExecutorAlias string

	// NextRunTime overrides the trigger's first fire time.
	NextRunTime *time.Time

	// Paused adds the job without a next run time; it will not fire
	// until resumed.
	Paused bool

	// ReplaceExisting updates a job already stored under the same id
	// instead of failing with a conflict.
	ReplaceExisting bool

	// Err records the first option construction failure (bad payload).
	Err error
}

// Option is a functional option for AddJob.
type Option func(*Options)

// WithID sets an explicit job identifier.
func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

// WithName sets the human-readable description.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithPayload sets the raw JSON payload bound to the handler.
func WithPayload(payload []byte) Option {
	return func(o *Options) { o.Payload = payload }
}

// WithArgs JSON-encodes v as the handler payload.
func WithArgs(v any) Option {
	return func(o *Options) {
		data, err := json.Marshal(v)
		if err != nil && o.Err == nil {
			o.Err = fmt.Errorf("encode job args: %w", err)
			return
		}
		o.Payload = data
	}
}

// WithMisfireGrace bounds how late a run time may be processed.
func WithMisfireGrace(d time.Duration) Option {
	return func(o *Options) { o.MisfireGrace = &d }
}

// WithNoMisfireGrace lets the job run no matter how late it is.
func WithNoMisfireGrace() Option {
	return func(o *Options) {
		var unlimited time.Duration
		o.MisfireGrace = &unlimited
	}
}

// WithCoalesce controls overdue-batch collapsing.
func WithCoalesce(coalesce bool) Option {
	return func(o *Options) { o.Coalesce = &coalesce }
}

// WithMaxInstances bounds concurrent invocations of the job id.
func WithMaxInstances(n int) Option {
	return func(o *Options) { o.MaxInstances = &n }
}

// WithStore routes the job to the store registered under alias.
func WithStore(alias string) Option {
	return func(o *Options) { o.StoreAlias = alias }
}

// WithExecutor routes the job to the executor registered under alias.
func WithExecutor(alias string) Option {
	return func(o *Options) { o.ExecutorAlias = alias }
}

// WithNextRunTime overrides the trigger's first fire time.
func WithNextRunTime(t time.Time) Option {
	return func(o *Options) { o.NextRunTime = &t }
}

// WithPaused adds the job in the paused state.
func WithPaused() Option {
	return func(o *Options) { o.Paused = true }
}

// WithReplaceExisting updates an existing job with the same id instead
// of failing with a conflict.
func WithReplaceExisting() Option {
	return func(o *Options) { o.ReplaceExisting = true }
}
