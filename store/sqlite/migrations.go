package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is the ordered schema history. The slice index plus one is
// the schema version recorded in sqlite's user_version pragma; append
// only.
var migrations = []string{
	// 001: jobs table. The encoded record is the source of truth; the
	// next_run_time column exists only so due queries and the wakeup
	// computation stay in SQL. NULL next_run_time means paused.
	`CREATE TABLE IF NOT EXISTS asyncz_jobs (
		id            TEXT PRIMARY KEY,
		next_run_time INTEGER,
		data          BLOB NOT NULL
	)`,

	// 002: due-query index. Partial so paused jobs stay out of it.
	`CREATE INDEX IF NOT EXISTS idx_asyncz_jobs_next_run_time
		ON asyncz_jobs (next_run_time)
		WHERE next_run_time IS NOT NULL`,
}

// migrate applies any pending schema steps inside one transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	// PRAGMA does not take placeholders.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, len(migrations))); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
