package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// Sync runs batches inline on the caller's goroutine. SendJob does not
// return until the batch's events have been dispatched, which makes it
// the executor of choice for tests and debugging but a poor fit for a
// live scheduler: a slow handler stalls the wakeup loop.
type Sync struct {
	base
}

var _ Executor = (*Sync)(nil)

// NewSync creates an inline executor.
func NewSync(registry *job.Registry, logger *slog.Logger, opts ...Option) *Sync {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Sync{}
	initBase(&s.base, registry, logger, &cfg)
	return s
}

// Start implements Executor.
func (s *Sync) Start(alias string, sink event.Sink) error {
	return s.start(alias, sink)
}

// SendJob implements Executor.
func (s *Sync) SendJob(j *job.Job, runTimes []time.Time) error {
	admitted, err := s.admit(j, runTimes)
	if err != nil {
		return err
	}
	if len(admitted) == 0 {
		return nil
	}

	events := runBatch(context.Background(), j, admitted, s.invokeLocal, s.logger)
	s.finish(j, len(admitted), events)
	return nil
}

// Shutdown implements Executor. There is never in-flight work when the
// caller is not inside SendJob, so wait has no drain to perform.
func (s *Sync) Shutdown(wait bool) error {
	if !s.beginShutdown(wait) {
		return nil
	}
	if wait {
		s.endShutdown()
	}
	s.logger.Debug("sync executor shut down")
	return nil
}
