package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
)

// Future resolves when a batch submitted to a Loop has been processed or
// abandoned.
type Future struct {
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel closed when the batch is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err blocks until the batch is resolved and returns nil when it was
// processed, or the abandonment cause (context.Canceled at shutdown).
func (f *Future) Err() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// resolve is idempotent; only the first call wins.
func (f *Future) resolve(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.err = err
	close(f.done)
}

type loopTask struct {
	job      *job.Job
	runTimes []time.Time
	future   *Future
}

// Loop runs all batches sequentially on a single goroutine, in
// submission order. Batches queue up to the configured queue size;
// SendJob fails with ErrQueueFull when the queue is saturated so a slow
// handler backlogs visibly instead of silently.
type Loop struct {
	base
	tasks  chan *loopTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Executor = (*Loop)(nil)

// NewLoop creates a single-goroutine sequential executor.
func NewLoop(registry *job.Registry, logger *slog.Logger, opts ...Option) *Loop {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	l := &Loop{
		tasks: make(chan *loopTask, cfg.queueSize),
	}
	initBase(&l.base, registry, logger, &cfg)
	return l
}

// Start implements Executor and launches the loop goroutine.
func (l *Loop) Start(alias string, sink event.Sink) error {
	if err := l.start(alias, sink); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// SendJob implements Executor.
func (l *Loop) SendJob(j *job.Job, runTimes []time.Time) (err error) {
	_, err = l.Submit(j, runTimes)
	return err
}

// Submit enqueues a batch and returns a Future resolving when it has
// been processed. Callers that do not care about completion can use
// SendJob instead.
func (l *Loop) Submit(j *job.Job, runTimes []time.Time) (*Future, error) {
	// The lock spans admission and enqueue so a concurrent Shutdown
	// cannot close intake between the ledger reservation and the send.
	l.mu.Lock()
	admitted, err := l.admitLocked(j, runTimes)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if len(admitted) == 0 {
		l.mu.Unlock()
		fut := newFuture()
		fut.resolve(nil)
		return fut, nil
	}

	task := &loopTask{job: j.Clone(), runTimes: admitted, future: newFuture()}
	select {
	case l.tasks <- task:
		l.mu.Unlock()
		return task.future, nil
	default:
		l.mu.Unlock()
		l.ledger.release(j.ID, len(admitted))
		return nil, asyncz.ErrQueueFull
	}
}

// Shutdown implements Executor. With wait it cancels the loop, waits for
// it to stop, and resolves every still-pending future with
// context.Canceled; without wait the loop is cancelled and left to wind
// down in the background, silenced.
func (l *Loop) Shutdown(wait bool) error {
	if !l.beginShutdown(wait) {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	if wait {
		l.wg.Wait()
		l.endShutdown()
	}
	l.logger.Debug("loop executor shut down", slog.Bool("wait", wait))
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		// Cancellation wins over further intake once both are ready.
		select {
		case <-ctx.Done():
			l.drain(ctx.Err())
			return
		default:
		}

		select {
		case <-ctx.Done():
			l.drain(ctx.Err())
			return
		case task := <-l.tasks:
			events := runBatch(ctx, task.job, task.runTimes, l.invokeLocal, l.logger)
			l.finish(task.job, len(task.runTimes), events)
			task.future.resolve(nil)
		}
	}
}

// drain abandons every queued batch after cancellation. Intake is
// already closed by Shutdown, so once the channel reads empty it stays
// empty.
func (l *Loop) drain(cause error) {
	for {
		select {
		case task := <-l.tasks:
			l.abandon(task.job, len(task.runTimes), cause)
			task.future.resolve(cause)
		default:
			return
		}
	}
}
