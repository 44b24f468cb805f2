package store

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/devkral/asyncz/job"
)

// Codec serializes job records for storage backends that persist bytes.
type Codec interface {
	Name() string
	Encode(rec *job.Record) ([]byte, error)
	Decode(data []byte) (*job.Record, error)
}

// JSONCodec stores records as JSON. Human-readable, interoperable, the
// default for the sqlite backend.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(rec *job.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func (JSONCodec) Decode(data []byte) (*job.Record, error) {
	var rec job.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MsgpackCodec stores records as msgpack. Smaller and faster than JSON,
// the default for the redis backend.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(rec *job.Record) ([]byte, error) {
	return msgpack.Marshal(rec)
}

func (MsgpackCodec) Decode(data []byte) (*job.Record, error) {
	var rec job.Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ForName resolves a codec by its configuration name.
func ForName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
