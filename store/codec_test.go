package store_test

import (
	"testing"
	"time"

	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
	"github.com/devkral/asyncz/trigger"
)

func TestCodecs_PreserveRecord(t *testing.T) {
	next := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	j := &job.Job{
		ID:            "job_codec",
		Task:          "greet",
		Payload:       []byte(`{"name":"world"}`),
		Trigger:       trigger.MustInterval(time.Minute, trigger.WithStart(next)),
		MaxInstances:  2,
		MisfireGrace:  30 * time.Second,
		Coalesce:      true,
		ExecutorAlias: "heavy",
		NextRunTime:   &next,
	}
	rec := j.Record()

	for _, codec := range []store.Codec{store.JSONCodec{}, store.MsgpackCodec{}} {
		data, err := codec.Encode(&rec)
		if err != nil {
			t.Fatalf("%s: encode: %v", codec.Name(), err)
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", codec.Name(), err)
		}

		restored, err := job.FromRecord(*decoded)
		if err != nil {
			t.Fatalf("%s: restore: %v", codec.Name(), err)
		}
		if restored.ID != j.ID || restored.Task != j.Task || restored.ExecutorAlias != j.ExecutorAlias {
			t.Fatalf("%s: identity lost: %#v", codec.Name(), restored)
		}
		if restored.MaxInstances != 2 || restored.MisfireGrace != 30*time.Second || !restored.Coalesce {
			t.Fatalf("%s: policy lost: %#v", codec.Name(), restored)
		}
		if restored.NextRunTime == nil || !restored.NextRunTime.Equal(next) {
			t.Fatalf("%s: next run time lost: %v", codec.Name(), restored.NextRunTime)
		}

		// The restored trigger keeps the original phase.
		want, _ := j.Trigger.Next(time.Time{}, next.Add(90*time.Second))
		got, _ := restored.Trigger.Next(time.Time{}, next.Add(90*time.Second))
		if !want.Equal(got) {
			t.Fatalf("%s: trigger diverged: %v vs %v", codec.Name(), got, want)
		}
	}
}

func TestForName(t *testing.T) {
	if c, err := store.ForName(""); err != nil || c.Name() != "json" {
		t.Fatalf("default codec = %v, %v", c, err)
	}
	if c, err := store.ForName("msgpack"); err != nil || c.Name() != "msgpack" {
		t.Fatalf("msgpack codec = %v, %v", c, err)
	}
	if _, err := store.ForName("xml"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
