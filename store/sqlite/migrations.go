package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the current schema generation, tracked through
// PRAGMA user_version.
const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS outbox_entries (
  id              TEXT PRIMARY KEY,
  channel         TEXT NOT NULL,
  payload         TEXT NOT NULL,
  headers         TEXT,
  idempotency_key TEXT,
  priority        INTEGER NOT NULL DEFAULT 0,
  attempt         INTEGER NOT NULL DEFAULT 0,
  next_attempt_at INTEGER,
  created_at      INTEGER NOT NULL,
  updated_at      INTEGER NOT NULL,
  status          TEXT NOT NULL,
  error           TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_ready
  ON outbox_entries(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_channel
  ON outbox_entries(channel, priority DESC, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_stuck
  ON outbox_entries(status, updated_at);
`

// migrations maps schema generations to their DDL, applied in order
// inside one transaction.
var migrations = []string{
	1: schemaV1,
}

// migrate brings the database up to schemaVersion. Fresh files get the
// full schema; files from a newer library version are rejected.
func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&current); err != nil {
		return fmt.Errorf("outbox/sqlite: read user_version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("outbox/sqlite: schema version %d is newer than supported %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for v := current + 1; v <= schemaVersion; v++ {
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("outbox/sqlite: migrate to v%d: %w", v, err)
		}
	}

	// PRAGMA does not support placeholders.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		return fmt.Errorf("outbox/sqlite: write user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox/sqlite: commit migration: %w", err)
	}
	return nil
}
