package job

import (
	"time"

	"github.com/devkral/asyncz/trigger"
)

// Record is the serializable form of a Job. Persistent stores encode
// records with a store.Codec; the trigger travels as its Spec and the
// handler travels by task name only; handlers themselves never cross a
// serialization boundary.
type Record struct {
	ID            string        `json:"id" msgpack:"id"`
	Task          string        `json:"task" msgpack:"task"`
	Name          string        `json:"name,omitempty" msgpack:"name,omitempty"`
	Payload       []byte        `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Trigger       trigger.Spec  `json:"trigger" msgpack:"trigger"`
	MaxInstances  int           `json:"max_instances" msgpack:"max_instances"`
	MisfireGrace  time.Duration `json:"misfire_grace,omitempty" msgpack:"misfire_grace,omitempty"`
	Coalesce      bool          `json:"coalesce" msgpack:"coalesce"`
	ExecutorAlias string        `json:"executor" msgpack:"executor"`
	NextRunTime   *time.Time    `json:"next_run_time,omitempty" msgpack:"next_run_time,omitempty"`
}

// Record converts the job to its serializable form.
func (j *Job) Record() Record {
	r := Record{
		ID:            j.ID,
		Task:          j.Task,
		Name:          j.Name,
		Payload:       j.Payload,
		Trigger:       j.Trigger.Spec(),
		MaxInstances:  j.MaxInstances,
		MisfireGrace:  j.MisfireGrace,
		Coalesce:      j.Coalesce,
		ExecutorAlias: j.ExecutorAlias,
	}
	if j.NextRunTime != nil {
		t := *j.NextRunTime
		r.NextRunTime = &t
	}
	return r
}

// FromRecord restores a Job from its serializable form. The store alias
// is assigned by the loading store, not persisted.
func FromRecord(r Record) (*Job, error) {
	trg, err := trigger.FromSpec(r.Trigger)
	if err != nil {
		return nil, err
	}
	j := &Job{
		ID:            r.ID,
		Task:          r.Task,
		Name:          r.Name,
		Payload:       r.Payload,
		Trigger:       trg,
		MaxInstances:  r.MaxInstances,
		MisfireGrace:  r.MisfireGrace,
		Coalesce:      r.Coalesce,
		ExecutorAlias: r.ExecutorAlias,
	}
	if r.NextRunTime != nil {
		t := *r.NextRunTime
		j.NextRunTime = &t
	}
	return j, nil
}
