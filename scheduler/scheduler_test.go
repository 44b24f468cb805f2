package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/backoff"
	"github.com/devkral/asyncz/event"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/scheduler"
	"github.com/devkral/asyncz/store/memory"
	"github.com/devkral/asyncz/trigger"
)

// collector buffers events from a listener for assertions.
type collector struct {
	ch chan event.Event
}

func newCollector(s *scheduler.Scheduler, mask event.Code) *collector {
	c := &collector{ch: make(chan event.Event, 128)}
	s.AddListener(func(e event.Event) {
		select {
		case c.ch <- e:
		default:
		}
	}, mask)
	return c
}

func (c *collector) wait(t *testing.T, code event.Code, timeout time.Duration) event.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-c.ch:
			if e.Code&code != 0 {
				return e
			}
		case <-deadline:
			t.Fatalf("no %b event within %v", code, timeout)
		}
	}
}

func newTestScheduler(t *testing.T, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(opts...)
	s.Registry().RegisterFunc("greet", func(_ context.Context, payload []byte) (any, error) {
		return "hello " + string(payload), nil
	})
	t.Cleanup(func() {
		if s.Running() {
			if err := s.Shutdown(context.Background(), true); err != nil {
				t.Errorf("cleanup shutdown: %v", err)
			}
		}
	})
	return s
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if s.Running() {
		t.Fatal("new scheduler reports running")
	}
	if err := s.Shutdown(ctx, true); err != nil {
		t.Fatalf("shutdown while stopped = %v, want nil", err)
	}

	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if !s.Running() {
		t.Fatal("scheduler not running after start")
	}
	if err := s.Start(ctx, false); !errors.Is(err, asyncz.ErrSchedulerRunning) {
		t.Fatalf("double start = %v, want ErrSchedulerRunning", err)
	}

	if err := s.Shutdown(ctx, true); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if s.Running() {
		t.Fatal("scheduler reports running after shutdown")
	}
	if err := s.Shutdown(ctx, true); err != nil {
		t.Fatalf("second shutdown = %v, want nil", err)
	}
}

func TestScheduler_RunsDateJob(t *testing.T) {
	s := newTestScheduler(t)
	c := newCollector(s, event.All)
	ctx := context.Background()

	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	j, err := s.AddJob(ctx, "greet", trigger.NewDate(time.Time{}), job.WithPayload([]byte("world")))
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	executed := c.wait(t, event.JobExecuted, 2*time.Second)
	if executed.JobID != j.ID {
		t.Fatalf("executed job = %q, want %q", executed.JobID, j.ID)
	}
	if executed.ReturnValue != "hello world" {
		t.Fatalf("return value = %v", executed.ReturnValue)
	}

	// One-shot schedules retire after firing.
	c.wait(t, event.JobRemoved, 2*time.Second)
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, asyncz.ErrJobNotFound) {
		t.Fatalf("lookup after exhaustion = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_IntervalJobRepeats(t *testing.T) {
	s := newTestScheduler(t)
	c := newCollector(s, event.JobExecuted)
	ctx := context.Background()

	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := s.AddJob(ctx, "greet", trigger.MustInterval(20*time.Millisecond)); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	c.wait(t, event.JobExecuted, 2*time.Second)
	c.wait(t, event.JobExecuted, 2*time.Second)
}

func TestScheduler_PendingJobsFlushOnStart(t *testing.T) {
	s := newTestScheduler(t)
	c := newCollector(s, event.All)
	ctx := context.Background()

	j, err := s.AddJob(ctx, "greet", trigger.NewDate(time.Time{}), job.WithPayload([]byte("early")))
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	// Visible while still held.
	if _, err := s.GetJob(ctx, j.ID); err != nil {
		t.Fatalf("pending job not visible: %v", err)
	}

	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	executed := c.wait(t, event.JobExecuted, 2*time.Second)
	if executed.ReturnValue != "hello early" {
		t.Fatalf("return value = %v", executed.ReturnValue)
	}
}

func TestScheduler_AddJobValidation(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.AddJob(ctx, "unregistered", trigger.NewDate(time.Time{})); !errors.Is(err, asyncz.ErrTaskNotFound) {
		t.Fatalf("error = %v, want ErrTaskNotFound", err)
	}
	if _, err := s.AddJob(ctx, "greet", nil); err == nil {
		t.Fatal("expected error for nil trigger")
	}
	if _, err := s.AddJob(ctx, "greet", trigger.NewDate(time.Time{}), job.WithMaxInstances(0)); err == nil {
		t.Fatal("expected error for zero max instances")
	}
}

func TestScheduler_AddJobConflictAndReplace(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	trg := trigger.MustInterval(time.Hour)
	if _, err := s.AddJob(ctx, "greet", trg, job.WithID("job_fixed")); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := s.AddJob(ctx, "greet", trg, job.WithID("job_fixed")); !errors.Is(err, asyncz.ErrConflictingID) {
		t.Fatalf("error = %v, want ErrConflictingID", err)
	}
	if _, err := s.AddJob(ctx, "greet", trg,
		job.WithID("job_fixed"),
		job.WithName("replacement"),
		job.WithReplaceExisting(),
	); err != nil {
		t.Fatalf("unexpected replace error: %v", err)
	}

	got, err := s.GetJob(ctx, "job_fixed")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if got.Name != "replacement" {
		t.Fatalf("name = %q, want the replacement's", got.Name)
	}
}

func TestScheduler_PausedStartHoldsDispatch(t *testing.T) {
	s := newTestScheduler(t)
	c := newCollector(s, event.All)
	ctx := context.Background()

	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := s.AddJob(ctx, "greet", trigger.NewDate(time.Time{}),
		job.WithNoMisfireGrace(),
	); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	quiet := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case e := <-c.ch:
			if e.Code&event.JobOutcomes != 0 {
				t.Fatalf("job ran while paused: %+v", e)
			}
		case <-quiet:
			break drain
		}
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	c.wait(t, event.JobExecuted, 2*time.Second)
}

func TestScheduler_PauseAndResumeJob(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	j, err := s.AddJob(ctx, "greet", trigger.MustInterval(time.Hour))
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	paused, err := s.PauseJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}
	if paused.NextRunTime != nil {
		t.Fatalf("paused job still has next run time %v", paused.NextRunTime)
	}

	resumed, err := s.ResumeJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if resumed.NextRunTime == nil {
		t.Fatal("resumed job has no next run time")
	}
}

func TestScheduler_RescheduleJob(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	j, err := s.AddJob(ctx, "greet", trigger.MustInterval(time.Hour))
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	before := *j.NextRunTime

	runAt := time.Now().Add(time.Minute)
	moved, err := s.RescheduleJob(ctx, j.ID, trigger.NewDate(runAt))
	if err != nil {
		t.Fatalf("unexpected reschedule error: %v", err)
	}
	if moved.NextRunTime == nil || !moved.NextRunTime.Equal(runAt) {
		t.Fatalf("next run time = %v, want %v (was %v)", moved.NextRunTime, runAt, before)
	}

	if _, err := s.RescheduleJob(ctx, j.ID, nil); !errors.Is(err, asyncz.ErrBadSettings) {
		t.Fatalf("reschedule with nil trigger = %v, want ErrBadSettings", err)
	}
}

func TestScheduler_RemoveJob(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	j, err := s.AddJob(ctx, "greet", trigger.MustInterval(time.Hour))
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := s.RemoveJob(ctx, j.ID); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if err := s.RemoveJob(ctx, j.ID); !errors.Is(err, asyncz.ErrJobNotFound) {
		t.Fatalf("second remove = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_GetJobsAcrossStores(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.AddStore(ctx, "second", memory.New()); err != nil {
		t.Fatalf("unexpected add store error: %v", err)
	}
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if _, err := s.AddJob(ctx, "greet", trigger.MustInterval(time.Hour)); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := s.AddJob(ctx, "greet", trigger.MustInterval(time.Hour), job.WithStore("second")); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	jobs, err := s.GetJobs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
}

func TestScheduler_UnknownAliasesRejected(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.Start(ctx, true); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	trg := trigger.MustInterval(time.Hour)
	if _, err := s.AddJob(ctx, "greet", trg, job.WithStore("nope")); !errors.Is(err, asyncz.ErrUnknownStore) {
		t.Fatalf("error = %v, want ErrUnknownStore", err)
	}
	if _, err := s.AddJob(ctx, "greet", trg, job.WithExecutor("nope")); !errors.Is(err, asyncz.ErrUnknownExecutor) {
		t.Fatalf("error = %v, want ErrUnknownExecutor", err)
	}
}

func TestScheduler_MaxInstancesEvent(t *testing.T) {
	s := newTestScheduler(t)
	c := newCollector(s, event.JobMaxInstances|event.JobExecuted)
	ctx := context.Background()

	release := make(chan struct{})
	var once sync.Once
	s.Registry().RegisterFunc("slow", func(context.Context, []byte) (any, error) {
		<-release
		return nil, nil
	})
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := s.AddJob(ctx, "slow", trigger.MustInterval(10*time.Millisecond),
		job.WithMaxInstances(1),
		job.WithCoalesce(true),
		job.WithNoMisfireGrace(),
	); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	// The first dispatch occupies the only slot; a later cycle must
	// report the ceiling instead of running concurrently.
	e := c.wait(t, event.JobMaxInstances, 2*time.Second)
	if len(e.ScheduledRunTimes) == 0 {
		t.Fatal("max instances event has no scheduled run times")
	}
	once.Do(func() { close(release) })
}

func TestScheduler_StoreFailureBacksOffAndRecovers(t *testing.T) {
	flaky := &flakyStore{Store: memory.New(), failures: 2}
	s := newTestScheduler(t, scheduler.WithStoreRetry(backoff.NewConstant(10*time.Millisecond)))
	c := newCollector(s, event.JobExecuted)
	ctx := context.Background()

	if err := s.AddStore(ctx, "flaky", flaky); err != nil {
		t.Fatalf("unexpected add store error: %v", err)
	}
	if err := s.Start(ctx, false); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := s.AddJob(ctx, "greet", trigger.NewDate(time.Time{}),
		job.WithStore("flaky"),
		job.WithNoMisfireGrace(),
	); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	c.wait(t, event.JobExecuted, 3*time.Second)
}

// flakyStore fails its first GetDueJobs calls, then recovers.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) GetDueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("transient store outage")
	}
	f.mu.Unlock()
	return f.Store.GetDueJobs(ctx, now)
}
