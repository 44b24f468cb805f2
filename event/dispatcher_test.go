package event_test

import (
	"log/slog"
	"testing"

	"github.com/devkral/asyncz/event"
)

func TestDispatcher_MaskFiltering(t *testing.T) {
	d := event.NewDispatcher(slog.Default())

	var outcomes, all []event.Code
	d.AddListener(func(e event.Event) { outcomes = append(outcomes, e.Code) }, event.JobOutcomes)
	d.AddListener(func(e event.Event) { all = append(all, e.Code) }, event.All)

	d.DispatchEvent(event.Event{Code: event.JobExecuted})
	d.DispatchEvent(event.Event{Code: event.JobSubmitted})
	d.DispatchEvent(event.Event{Code: event.JobMissed})
	d.DispatchEvent(event.Event{Code: event.SchedulerStarted})

	if len(outcomes) != 2 {
		t.Fatalf("outcome listener saw %v, want executed and missed only", outcomes)
	}
	if outcomes[0] != event.JobExecuted || outcomes[1] != event.JobMissed {
		t.Fatalf("outcome listener saw %v", outcomes)
	}
	if len(all) != 4 {
		t.Fatalf("catch-all listener saw %d events, want 4", len(all))
	}
}

func TestDispatcher_RemoveListener(t *testing.T) {
	d := event.NewDispatcher(slog.Default())

	var count int
	id := d.AddListener(func(event.Event) { count++ }, event.All)

	d.DispatchEvent(event.Event{Code: event.JobExecuted})
	d.RemoveListener(id)
	d.DispatchEvent(event.Event{Code: event.JobExecuted})

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestDispatcher_ListenerPanicIsolated(t *testing.T) {
	d := event.NewDispatcher(slog.Default())

	var reached bool
	d.AddListener(func(event.Event) { panic("listener bug") }, event.All)
	d.AddListener(func(event.Event) { reached = true }, event.All)

	d.DispatchEvent(event.Event{Code: event.JobError})

	if !reached {
		t.Fatal("panicking listener blocked delivery to the next one")
	}
}

func TestCodes_AreDistinctFlags(t *testing.T) {
	codes := []event.Code{
		event.SchedulerStarted, event.SchedulerShutdown, event.SchedulerPaused,
		event.SchedulerResumed, event.ExecutorAdded, event.ExecutorRemoved,
		event.StoreAdded, event.StoreRemoved, event.AllJobsRemoved,
		event.JobAdded, event.JobRemoved, event.JobModified, event.JobSubmitted,
		event.JobMaxInstances, event.JobExecuted, event.JobError, event.JobMissed,
	}
	var seen event.Code
	for _, c := range codes {
		if c&seen != 0 {
			t.Fatalf("code %b overlaps another flag", c)
		}
		if c&event.All == 0 {
			t.Fatalf("code %b not covered by All", c)
		}
		seen |= c
	}
	if seen != event.All {
		t.Fatalf("All = %b does not equal the union %b", event.All, seen)
	}
}
