package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// Pool runs handlers on a bounded set of worker goroutines. SendJob
// never runs the handler on the caller's goroutine; the semaphore bounds
// how many batches execute at once.
type Pool struct {
	base
	sem chan struct{}
	wg  sync.WaitGroup
}

var _ Executor = (*Pool)(nil)

// NewPool creates a goroutine-pool executor resolving handlers from
// registry.
func NewPool(registry *job.Registry, logger *slog.Logger, opts ...Option) *Pool {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &Pool{
		sem: make(chan struct{}, cfg.maxWorkers),
	}
	initBase(&p.base, registry, logger, &cfg)
	return p
}

// Start implements Executor.
func (p *Pool) Start(alias string, sink event.Sink) error {
	return p.start(alias, sink)
}

// SendJob implements Executor.
func (p *Pool) SendJob(j *job.Job, runTimes []time.Time) error {
	// The lock spans admission and wg.Add so every admitted batch is
	// visible to the wg.Wait of a concurrent Shutdown(true).
	p.mu.Lock()
	admitted, err := p.admitLocked(j, runTimes)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if len(admitted) == 0 {
		p.mu.Unlock()
		return nil
	}

	// Clone so the scheduler's post-dispatch mutation of the job cannot
	// race the running batch.
	jc := j.Clone()
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		events := runBatch(context.Background(), jc, admitted, p.invokeLocal, p.logger)
		p.finish(jc, len(admitted), events)
	}()
	return nil
}

// Shutdown implements Executor. With wait it blocks until all submitted
// batches have drained and their events are out; without wait, in-flight
// handlers keep running natively but no further events are dispatched.
func (p *Pool) Shutdown(wait bool) error {
	if !p.beginShutdown(wait) {
		return nil
	}
	if wait {
		p.wg.Wait()
		p.endShutdown()
	}
	p.logger.Debug("pool executor shut down", slog.Bool("wait", wait))
	return nil
}
