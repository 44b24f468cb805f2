// Package redis provides a job store backed by a redis hash and sorted
// set, usable by several scheduler processes sharing one database.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "asyncz"

// Store persists jobs in redis. Records are encoded with the configured
// codec (msgpack unless overridden) in a hash keyed by job id, with a
// sorted set alongside scoring each scheduled job by its next run time.
type Store struct {
	client   goredis.UniversalClient
	keys     keys
	codec    store.Codec
	ownsConn bool
	alias    string
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = newKeys(prefix) }
}

// WithCodec overrides the record codec.
func WithCodec(c store.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// New creates a store on an existing client. The caller keeps ownership
// of the client; Shutdown will not close it.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   newKeys(DefaultPrefix),
		codec:  store.MsgpackCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromURL creates a store with its own client from a redis URL. The
// client is closed on Shutdown.
func NewFromURL(url string, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := New(goredis.NewClient(ropts), opts...)
	s.ownsConn = true
	return s, nil
}

// Start implements store.Store and verifies connectivity.
func (s *Store) Start(ctx context.Context, alias string) error {
	s.alias = alias
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store %q: ping: %w", alias, err)
	}
	return nil
}

// Shutdown implements store.Store. Jobs stay in redis.
func (s *Store) Shutdown(ctx context.Context) error {
	if s.ownsConn {
		return s.client.Close()
	}
	return nil
}

// AddJob implements store.Store.
func (s *Store) AddJob(ctx context.Context, j *job.Job) error {
	exists, err := s.client.HExists(ctx, s.keys.jobs, j.ID).Result()
	if err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %q", asyncz.ErrConflictingID, j.ID)
	}
	return s.write(ctx, j)
}

// UpdateJob implements store.Store.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	exists, err := s.client.HExists(ctx, s.keys.jobs, j.ID).Result()
	if err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, j.ID)
	}
	return s.write(ctx, j)
}

// write persists the record and synchronizes the run-time index in one
// transaction.
func (s *Store) write(ctx context.Context, j *job.Job) error {
	rec := j.Record()
	data, err := s.codec.Encode(&rec)
	if err != nil {
		return fmt.Errorf("encode job %q: %w", j.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.jobs, j.ID, data)
	if j.NextRunTime != nil {
		pipe.ZAdd(ctx, s.keys.runTimes, goredis.Z{
			Score:  float64(j.NextRunTime.UnixMilli()),
			Member: j.ID,
		})
	} else {
		pipe.ZRem(ctx, s.keys.runTimes, j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	return nil
}

// RemoveJob implements store.Store.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	exists, err := s.client.HExists(ctx, s.keys.jobs, id).Result()
	if err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.keys.jobs, id)
	pipe.ZRem(ctx, s.keys.runTimes, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	return nil
}

// RemoveAllJobs implements store.Store.
func (s *Store) RemoveAllJobs(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys.jobs, s.keys.runTimes).Err(); err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	return nil
}

// LookupJob implements store.Store.
func (s *Store) LookupJob(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.HGet(ctx, s.keys.jobs, id).Result()
	if err == goredis.Nil {
		return nil, fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	return s.decode(id, []byte(data))
}

// GetDueJobs implements store.Store.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.runTimes, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	return s.fetch(ctx, ids)
}

// GetAllJobs implements store.Store. Scheduled jobs come back in run
// time order; paused jobs, present in the hash but not the index,
// follow.
func (s *Store) GetAllJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, s.keys.runTimes, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	scheduled := make(map[string]bool, len(ids))
	for _, id := range ids {
		scheduled[id] = true
	}

	all, err := s.client.HKeys(ctx, s.keys.jobs).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	for _, id := range all {
		if !scheduled[id] {
			ids = append(ids, id)
		}
	}
	return s.fetch(ctx, ids)
}

// GetNextRunTime implements store.Store.
func (s *Store) GetNextRunTime(ctx context.Context) (time.Time, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.keys.runTimes, 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis store: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(int64(zs[0].Score)), nil
}

func (s *Store) fetch(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.keys.jobs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry with no hash record; stale leftovers are
			// skipped rather than failing the whole query.
			continue
		}
		j, err := s.decode(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) decode(id string, data []byte) (*job.Job, error) {
	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode job %q: %w", id, err)
	}
	j, err := job.FromRecord(*rec)
	if err != nil {
		return nil, fmt.Errorf("restore job %q: %w", id, err)
	}
	j.StoreAlias = s.alias
	return j, nil
}
