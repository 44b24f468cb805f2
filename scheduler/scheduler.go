// Package scheduler ties triggers, stores and executors together: it
// owns the component registries, runs the wakeup loop that dispatches
// due jobs, and fans out the engine's events to listeners.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/backoff"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/executor"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
	"github.com/devkral/asyncz/store/memory"
)

// DefaultAlias is the store and executor alias jobs route to when none
// is set.
const DefaultAlias = "default"

type state int

const (
	stateStopped state = iota
	stateRunning
	statePaused
)

// pendingJob is a job added before Start; it is flushed into its store
// when the scheduler starts. Its first run time is computed at flush,
// not at add, so it is not stale by the time the scheduler runs.
type pendingJob struct {
	job     *job.Job
	replace bool
	paused  bool
}

// Scheduler coordinates stores and executors and runs the wakeup loop.
// All methods are safe for concurrent use.
type Scheduler struct {
	logger     *slog.Logger
	registry   *job.Registry
	loc        *time.Location
	defaults   asyncz.JobDefaults
	retry      backoff.Strategy
	limiter    *rate.Limiter
	dispatcher *event.Dispatcher

	mu        sync.RWMutex
	state     state
	stores    map[string]store.Store
	executors map[string]executor.Executor
	pending   []pendingJob

	// wakeup has capacity one; notifyWakeup never blocks and collapses
	// bursts of pokes into a single loop iteration.
	wakeup chan struct{}
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithRegistry sets the task registry handlers are resolved from.
// A fresh registry is created when none is given.
func WithRegistry(r *job.Registry) Option {
	return func(s *Scheduler) { s.registry = r }
}

// WithTimezone sets the location trigger arithmetic happens in.
// Defaults to time.Local.
func WithTimezone(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithJobDefaults overrides the fallback values applied to jobs that do
// not set the corresponding option.
func WithJobDefaults(d asyncz.JobDefaults) Option {
	return func(s *Scheduler) { s.defaults = d }
}

// WithStoreRetry sets the backoff applied when a store fails during the
// wakeup loop. Defaults to a constant ten seconds.
func WithStoreRetry(strategy backoff.Strategy) Option {
	return func(s *Scheduler) { s.retry = strategy }
}

// WithDispatchLimit throttles how fast due jobs are handed to executors.
// Zero limit means no throttle.
func WithDispatchLimit(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// New creates a stopped scheduler. If no store or executor is registered
// under the default alias by the time Start runs, an in-process store
// and a goroutine-pool executor are installed there.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:    slog.Default(),
		loc:       time.Local,
		defaults:  asyncz.DefaultJobDefaults(),
		retry:     backoff.DefaultStrategy(),
		stores:    make(map[string]store.Store),
		executors: make(map[string]executor.Executor),
		wakeup:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = job.NewRegistry()
	}
	s.dispatcher = event.NewDispatcher(s.logger)
	return s
}

// Registry returns the task registry so callers can register handlers.
func (s *Scheduler) Registry() *job.Registry { return s.registry }

// Start brings up every registered store and executor, flushes jobs
// added while stopped, and launches the wakeup loop. With paused set the
// loop idles until Resume.
func (s *Scheduler) Start(ctx context.Context, paused bool) error {
	s.mu.Lock()
	if s.state != stateStopped {
		s.mu.Unlock()
		return asyncz.ErrSchedulerRunning
	}

	if _, ok := s.stores[DefaultAlias]; !ok {
		s.stores[DefaultAlias] = memory.New()
	}
	if _, ok := s.executors[DefaultAlias]; !ok {
		s.executors[DefaultAlias] = executor.NewPool(s.registry, s.logger)
	}

	for alias, st := range s.stores {
		if err := st.Start(ctx, alias); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	for alias, ex := range s.executors {
		if err := ex.Start(alias, s); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	pending := s.pending
	s.pending = nil

	if paused {
		s.state = statePaused
	} else {
		s.state = stateRunning
	}
	s.stopCh = make(chan struct{})
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	for _, p := range pending {
		if !p.paused && p.job.NextRunTime == nil {
			s.computeFirstRunTime(p.job)
		}
		if err := s.storeJob(ctx, p.job, p.replace); err != nil {
			s.logger.Error("failed to flush pending job",
				slog.String("job_id", p.job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.wg.Add(1)
	go s.run(loopCtx)

	s.DispatchEvent(event.Event{Code: event.SchedulerStarted})
	s.logger.Info("scheduler started", slog.Bool("paused", paused))
	return nil
}

// Shutdown stops the wakeup loop, shuts every executor down in parallel
// and then every store. With wait it blocks until in-flight work has
// drained. Shutdown is idempotent; on a stopped scheduler it is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context, wait bool) error {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	close(s.stopCh)
	s.cancel()
	executors := make([]executor.Executor, 0, len(s.executors))
	for _, ex := range s.executors {
		executors = append(executors, ex)
	}
	stores := make([]store.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	s.mu.Unlock()

	s.wg.Wait()

	var g errgroup.Group
	for _, ex := range executors {
		g.Go(func() error { return ex.Shutdown(wait) })
	}
	err := g.Wait()

	for _, st := range stores {
		if serr := st.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}

	s.DispatchEvent(event.Event{Code: event.SchedulerShutdown})
	s.logger.Info("scheduler shut down", slog.Bool("wait", wait))
	return err
}

// Pause suspends job dispatch. Stores and executors stay up; due jobs
// accumulate until Resume and are then subject to their misfire grace.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	switch s.state {
	case stateStopped:
		s.mu.Unlock()
		return asyncz.ErrSchedulerStopped
	case statePaused:
		s.mu.Unlock()
		return nil
	}
	s.state = statePaused
	s.mu.Unlock()

	s.DispatchEvent(event.Event{Code: event.SchedulerPaused})
	s.logger.Info("scheduler paused")
	return nil
}

// Resume restarts job dispatch after Pause.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	switch s.state {
	case stateStopped:
		s.mu.Unlock()
		return asyncz.ErrSchedulerStopped
	case stateRunning:
		s.mu.Unlock()
		return nil
	}
	s.state = stateRunning
	s.mu.Unlock()

	s.DispatchEvent(event.Event{Code: event.SchedulerResumed})
	s.notifyWakeup()
	s.logger.Info("scheduler resumed")
	return nil
}

// Running reports whether Start has been called without a matching
// Shutdown. A paused scheduler is running.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != stateStopped
}

// AddStore registers a job store under alias. On a running scheduler the
// store is started immediately and its jobs become eligible for
// dispatch.
func (s *Scheduler) AddStore(ctx context.Context, alias string, st store.Store) error {
	s.mu.Lock()
	if _, ok := s.stores[alias]; ok {
		s.mu.Unlock()
		return asyncz.ErrAliasInUse
	}
	running := s.state != stateStopped
	if running {
		if err := st.Start(ctx, alias); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.stores[alias] = st
	s.mu.Unlock()

	s.DispatchEvent(event.Event{Code: event.StoreAdded, Alias: alias})
	if running {
		s.notifyWakeup()
	}
	return nil
}

// RemoveStore deregisters a store. Its jobs stop being dispatched; the
// store itself is shut down when the scheduler is running.
func (s *Scheduler) RemoveStore(ctx context.Context, alias string) error {
	s.mu.Lock()
	st, ok := s.stores[alias]
	if !ok {
		s.mu.Unlock()
		return asyncz.ErrUnknownStore
	}
	delete(s.stores, alias)
	running := s.state != stateStopped
	s.mu.Unlock()

	if running {
		if err := st.Shutdown(ctx); err != nil {
			return err
		}
	}
	s.DispatchEvent(event.Event{Code: event.StoreRemoved, Alias: alias})
	return nil
}

// AddExecutor registers an executor under alias. On a running scheduler
// it is started immediately.
func (s *Scheduler) AddExecutor(alias string, ex executor.Executor) error {
	s.mu.Lock()
	if _, ok := s.executors[alias]; ok {
		s.mu.Unlock()
		return asyncz.ErrAliasInUse
	}
	if s.state != stateStopped {
		if err := ex.Start(alias, s); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.executors[alias] = ex
	s.mu.Unlock()

	s.DispatchEvent(event.Event{Code: event.ExecutorAdded, Alias: alias})
	return nil
}

// RemoveExecutor deregisters an executor, shutting it down with drain
// when the scheduler is running.
func (s *Scheduler) RemoveExecutor(alias string) error {
	s.mu.Lock()
	ex, ok := s.executors[alias]
	if !ok {
		s.mu.Unlock()
		return asyncz.ErrUnknownExecutor
	}
	delete(s.executors, alias)
	running := s.state != stateStopped
	s.mu.Unlock()

	if running {
		if err := ex.Shutdown(true); err != nil {
			return err
		}
	}
	s.DispatchEvent(event.Event{Code: event.ExecutorRemoved, Alias: alias})
	return nil
}

// AddListener registers fn for events matching mask and returns a token
// for RemoveListener. event.All matches everything.
func (s *Scheduler) AddListener(fn event.Listener, mask event.Code) int {
	return s.dispatcher.AddListener(fn, mask)
}

// RemoveListener deregisters a listener by its token.
func (s *Scheduler) RemoveListener(id int) {
	s.dispatcher.RemoveListener(id)
}

// DispatchEvent implements event.Sink. Executors deliver batch outcomes
// through it; listener panics are isolated by the dispatcher.
func (s *Scheduler) DispatchEvent(e event.Event) {
	s.dispatcher.DispatchEvent(e)
}

// notifyWakeup pokes the wakeup loop without blocking.
func (s *Scheduler) notifyWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}
