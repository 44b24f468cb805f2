// Package sqlite provides a single-process durable job store on an
// embedded sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devkral/asyncz"
	"github.com/devkral/asyncz/job"
	"github.com/devkral/asyncz/store"
)

// Store persists jobs in one sqlite table: the encoded record as a
// blob, with the next run time mirrored into an indexed column for the
// due and wakeup queries. Jobs survive process restarts.
type Store struct {
	db     *sql.DB
	codec  store.Codec
	ownsDB bool
	alias  string
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCodec overrides the record codec. Defaults to JSON so rows stay
// inspectable with the sqlite shell.
func WithCodec(c store.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// New creates a store on an existing database handle. The caller keeps
// ownership; Shutdown will not close it.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, codec: store.JSONCodec{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store with its own connection to the database at path.
// Use ":memory:" for an ephemeral database. The connection is closed on
// Shutdown.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The driver multiplexes poorly across connections for writes.
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// Start implements store.Store and applies pending schema migrations.
func (s *Store) Start(ctx context.Context, alias string) error {
	s.alias = alias
	if err := migrate(ctx, s.db); err != nil {
		return fmt.Errorf("sqlite store %q: %w", alias, err)
	}
	return nil
}

// Shutdown implements store.Store. Jobs stay on disk.
func (s *Store) Shutdown(ctx context.Context) error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// AddJob implements store.Store.
func (s *Store) AddJob(ctx context.Context, j *job.Job) error {
	data, runTime, err := s.encode(j)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO asyncz_jobs (id, next_run_time, data)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		j.ID, runTime, data)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", asyncz.ErrConflictingID, j.ID)
	}
	return nil
}

// UpdateJob implements store.Store.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	data, runTime, err := s.encode(j)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE asyncz_jobs SET next_run_time = ?, data = ? WHERE id = ?`,
		runTime, data, j.ID)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, j.ID)
	}
	return nil
}

// RemoveJob implements store.Store.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM asyncz_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}
	return nil
}

// RemoveAllJobs implements store.Store.
func (s *Store) RemoveAllJobs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM asyncz_jobs`); err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	return nil
}

// LookupJob implements store.Store.
func (s *Store) LookupJob(ctx context.Context, id string) (*job.Job, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM asyncz_jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", asyncz.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return s.decode(id, data)
}

// GetDueJobs implements store.Store.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	return s.query(ctx,
		`SELECT id, data FROM asyncz_jobs
		 WHERE next_run_time IS NOT NULL AND next_run_time <= ?
		 ORDER BY next_run_time, id`,
		now.UnixMilli())
}

// GetAllJobs implements store.Store.
func (s *Store) GetAllJobs(ctx context.Context) ([]*job.Job, error) {
	// NULLs sort first in sqlite; push paused jobs to the end instead.
	return s.query(ctx,
		`SELECT id, data FROM asyncz_jobs
		 ORDER BY next_run_time IS NULL, next_run_time, id`)
}

// GetNextRunTime implements store.Store.
func (s *Store) GetNextRunTime(ctx context.Context) (time.Time, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(next_run_time) FROM asyncz_jobs WHERE next_run_time IS NOT NULL`).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite store: %w", err)
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(next.Int64), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		j, err := s.decode(id, data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return jobs, nil
}

func (s *Store) encode(j *job.Job) ([]byte, any, error) {
	rec := j.Record()
	data, err := s.codec.Encode(&rec)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job %q: %w", j.ID, err)
	}
	var runTime any
	if j.NextRunTime != nil {
		runTime = j.NextRunTime.UnixMilli()
	}
	return data, runTime, nil
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
