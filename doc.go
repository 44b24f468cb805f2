// Package asyncz provides an in-process job-scheduling engine for Go.
// It executes registered handlers on computed schedules (interval, cron,
// or one-shot triggers), persists job definitions through pluggable
// stores, and runs them through pluggable execution substrates while
// enforcing per-job concurrency ceilings and a misfire policy.
//
// Asyncz is designed as a library, not a service. Register handlers as
// ordinary Go functions, add jobs with a trigger, and start the
// scheduler.
//
// # Quick Start
//
//	reg := job.NewRegistry()
//	job.Register(reg, job.NewDefinition("report", func(ctx context.Context, p ReportArgs) (any, error) {
//	    return buildReport(ctx, p)
//	}))
//
//	s := scheduler.New(scheduler.WithRegistry(reg))
//	if _, err := s.AddJob(ctx, "report", trigger.MustInterval(time.Hour)); err != nil { ... }
//	if err := s.Start(ctx, false); err != nil { ... }
//
// # Architecture
//
// Each subsystem lives in its own package: triggers compute fire times,
// stores persist job definitions, executors run handlers under a
// concurrency ledger, and the scheduler owns the wakeup loop that ties
// them together. Every processed run time is reported as exactly one
// immutable event through the scheduler's event sink.
//
// This package holds the shared error values and the configuration
// surface (Settings plus the flat/nested normalization rules).
package asyncz
