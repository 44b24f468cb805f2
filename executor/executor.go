// Package executor runs job handlers under a per-job concurrency ledger
// and reports every processed run time as exactly one event. Four
// substrates share one dispatch and accounting contract: a bounded
// goroutine pool, a subprocess pool, a cooperative single loop, and a
// synchronous inline runner for tests and debugging.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/middleware"
)

// Executor is the execution-substrate plugin contract. Implementations
// are registrable with a scheduler under a string alias.
type Executor interface {
	// Start records the owning scheduler's event sink and acquires the
	// substrate's resources. Called by the scheduler when it starts or
	// when the executor is added to a running scheduler.
	Start(alias string, sink event.Sink) error

	// Shutdown stops accepting new work. With wait it blocks until
	// in-flight work drains (pool substrates) or every pending task has
	// been cancelled and observed (loop substrate). After Shutdown
	// returns, this executor never dispatches another event.
	Shutdown(wait bool) error

	// SendJob dispatches one due batch: at-most-once, best effort. If
	// admitting the batch would exceed the job's concurrency ceiling it
	// fails synchronously with MaxInstancesError and the run times are
	// dropped for this cycle.
	SendJob(j *job.Job, runTimes []time.Time) error
}

// Observer receives instrumentation-level completion callbacks, distinct
// from the per-run-time events delivered through the scheduler's sink.
type Observer interface {
	// RunCompleted is called once per processed batch with the events
	// the batch produced.
	RunCompleted(jobID string, events []event.Event)

	// RunFailed is called when the substrate abandoned a batch without
	// processing it (for example, cancellation at shutdown).
	RunFailed(jobID string, err error)
}

// config collects the settings shared by all substrates.
type config struct {
	maxWorkers int
	queueSize  int
	mws        []middleware.Middleware
	observer   Observer
	workerArgv []string
}

// Option configures an executor.
type Option func(*config)

// WithMaxWorkers bounds the substrate's concurrency (pool and
// subprocess variants). Defaults to 10.
func WithMaxWorkers(n int) Option {
	return func(c *config) { c.maxWorkers = n }
}

// WithQueueSize bounds the loop executor's pending-task queue.
// Defaults to 256.
func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithMiddleware wraps every handler invocation with the given
// middleware, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *config) { c.mws = append(c.mws, mws...) }
}

// WithObserver sets the instrumentation observer.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithWorkerCommand sets the argv the subprocess executor launches for
// each invocation. Defaults to re-executing the current binary with the
// worker environment flag set.
func WithWorkerCommand(argv []string) Option {
	return func(c *config) { c.workerArgv = argv }
}

func defaultConfig() config {
	return config{maxWorkers: 10, queueSize: 256}
}

// base carries the state every substrate shares: the ledger, the event
// sink, the middleware chain, and the shutdown flags.
type base struct {
	registry *job.Registry
	logger   *slog.Logger
	mw       middleware.Middleware
	observer Observer
	ledger   *ledger

	mu       sync.Mutex
	alias    string
	sink     event.Sink
	started  bool
	closed   bool
	silenced bool
}

func initBase(b *base, registry *job.Registry, logger *slog.Logger, cfg *config) {
	if logger == nil {
		logger = slog.Default()
	}
	b.registry = registry
	b.logger = logger
	b.observer = cfg.observer
	b.ledger = newLedger()
	if len(cfg.mws) > 0 {
		b.mw = middleware.Chain(cfg.mws...)
	}
}

// start records the owning scheduler's sink. Restarting a shut-down
// executor is not supported.
func (b *base) start(alias string, sink event.Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return asyncz.ErrExecutorStopped
	}
	b.alias = alias
	b.sink = sink
	b.started = true
	b.logger = b.logger.With(slog.String("executor", alias))
	return nil
}

// admit validates lifecycle state, applies coalescing, and reserves
// ledger units. The returned slice is what the substrate must process;
// its length is the reservation to release in finish.
func (b *base) admit(j *job.Job, runTimes []time.Time) ([]time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admitLocked(j, runTimes)
}

// admitLocked is admit for callers already holding b.mu, so admission
// and enqueue can form one atomic step against Shutdown.
func (b *base) admitLocked(j *job.Job, runTimes []time.Time) ([]time.Time, error) {
	if !b.started {
		return nil, asyncz.ErrExecutorNotStarted
	}
	if b.closed {
		return nil, asyncz.ErrExecutorStopped
	}
	if len(runTimes) == 0 {
		return nil, nil
	}
	if j.Coalesce && len(runTimes) > 1 {
		runTimes = runTimes[len(runTimes)-1:]
	}
	if err := b.ledger.acquire(j.ID, len(runTimes), j.MaxInstances); err != nil {
		return nil, err
	}
	return runTimes, nil
}

// beginShutdown flips the intake flag. Returns false when the executor
// was already shut down. Without wait, events are silenced immediately;
// with wait, the substrate calls endShutdown after draining.
func (b *base) beginShutdown(wait bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	if !wait {
		b.silenced = true
	}
	return true
}

func (b *base) endShutdown() {
	b.mu.Lock()
	b.silenced = true
	b.mu.Unlock()
}

// finish releases the ledger reservation and dispatches the batch's
// events through the owning scheduler, unless the executor has been
// silenced by shutdown.
func (b *base) finish(j *job.Job, units int, events []event.Event) {
	b.ledger.release(j.ID, units)

	b.mu.Lock()
	sink := b.sink
	silenced := b.silenced
	b.mu.Unlock()

	if silenced {
		return
	}
	for _, e := range events {
		sink.DispatchEvent(e)
	}
	if b.observer != nil {
		b.observer.RunCompleted(j.ID, events)
	}
}

// abandon releases the reservation for a batch the substrate never
// processed and notifies the observer. No events are dispatched.
func (b *base) abandon(j *job.Job, units int, cause error) {
	b.ledger.release(j.ID, units)
	if b.observer != nil {
		b.observer.RunFailed(j.ID, cause)
	}
}

// invokeLocal resolves and runs the handler in-process, through the
// middleware chain when one is configured.
func (b *base) invokeLocal(ctx context.Context, j *job.Job, _ time.Time) (any, error) {
	handler, ok := b.registry.Get(j.Task)
	if !ok {
		return nil, fmt.Errorf("%w: %q", asyncz.ErrTaskNotFound, j.Task)
	}
	terminal := func(ctx context.Context) (any, error) {
		return handler(ctx, j.Payload)
	}
	if b.mw != nil {
		return b.mw(ctx, j, terminal)
	}
	return terminal(ctx)
}
