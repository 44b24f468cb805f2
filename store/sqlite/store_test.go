package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store/sqlite"
	"github.com/devkral/asyncz/trigger"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if err := s.Start(context.Background(), "default"); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("unexpected shutdown error: %v", err)
		}
	})
	return s
}

func sqliteJob(id string, next time.Time) *job.Job {
	j := &job.Job{
		ID:            id,
		Task:          "greet",
		Payload:       []byte(`{"name":"world"}`),
		Trigger:       trigger.MustInterval(time.Minute),
		MaxInstances:  1,
		Coalesce:      true,
		ExecutorAlias: "default",
	}
	if !next.IsZero() {
		t := next.Truncate(time.Millisecond)
		j.NextRunTime = &t
	}
	return j
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	next := time.Now().Add(time.Minute).Truncate(time.Millisecond)

	if err := s.AddJob(ctx, sqliteJob("job_a", next)); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	got, err := s.LookupJob(ctx, "job_a")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if got.Task != "greet" || string(got.Payload) != `{"name":"world"}` {
		t.Fatalf("restored job = %#v", got)
	}
	if got.StoreAlias != "default" {
		t.Fatalf("store alias = %q, want assigned by loading store", got.StoreAlias)
	}
	if got.NextRunTime == nil || !got.NextRunTime.Equal(next) {
		t.Fatalf("next run time = %v, want %v", got.NextRunTime, next)
	}
}

func TestStore_ConflictAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.AddJob(ctx, sqliteJob("job_a", time.Now())); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := s.AddJob(ctx, sqliteJob("job_a", time.Now())); !errors.Is(err, asyncz.ErrConflictingID) {
		t.Fatalf("error = %v, want ErrConflictingID", err)
	}
	if _, err := s.LookupJob(ctx, "job_missing"); !errors.Is(err, asyncz.ErrJobNotFound) {
		t.Fatalf("lookup error = %v, want ErrJobNotFound", err)
	}
	if err := s.UpdateJob(ctx, sqliteJob("job_missing", time.Now())); !errors.Is(err, asyncz.ErrJobNotFound) {
		t.Fatalf("update error = %v, want ErrJobNotFound", err)
	}
	if err := s.RemoveJob(ctx, "job_missing"); !errors.Is(err, asyncz.ErrJobNotFound) {
		t.Fatalf("remove error = %v, want ErrJobNotFound", err)
	}
}

func TestStore_DueAndNextRunTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	mustAdd := func(j *job.Job) {
		t.Helper()
		if err := s.AddJob(ctx, j); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	mustAdd(sqliteJob("job_due1", now.Add(-time.Minute)))
	mustAdd(sqliteJob("job_due2", now.Add(-time.Second)))
	mustAdd(sqliteJob("job_later", now.Add(time.Hour)))
	mustAdd(sqliteJob("job_paused", time.Time{}))

	due, err := s.GetDueJobs(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 || due[0].ID != "job_due1" || due[1].ID != "job_due2" {
		t.Fatalf("due jobs = %v", due)
	}

	next, err := s.GetNextRunTime(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Equal(now.Add(-time.Minute)) {
		t.Fatalf("next run time = %v", next)
	}

	all, err := s.GetAllJobs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 4 || all[len(all)-1].ID != "job_paused" {
		t.Fatalf("all jobs = %d, last = %s", len(all), all[len(all)-1].ID)
	}
}

func TestStore_UpdateMovesSchedule(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	if err := s.AddJob(ctx, sqliteJob("job_a", now.Add(time.Hour))); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := s.UpdateJob(ctx, sqliteJob("job_a", now.Add(-time.Second))); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	due, err := s.GetDueJobs(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "job_a" {
		t.Fatalf("due jobs = %v", due)
	}
}

func TestStore_RemoveAllJobs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.AddJob(ctx, sqliteJob("job_a", time.Now())); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := s.RemoveAllJobs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, _ := s.GetAllJobs(ctx)
	if len(all) != 0 {
		t.Fatalf("jobs remain: %d", len(all))
	}
}
