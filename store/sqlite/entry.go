package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlet99/durable-outbox"
)

// Insert upserts an entry by ID and signals count watchers.
func (s *Store) Insert(ctx context.Context, e *outbox.Entry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	args, err := entryArgs(e, s.clock.Now())
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO outbox_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			channel = excluded.channel,
			payload = excluded.payload,
			headers = excluded.headers,
			idempotency_key = excluded.idempotency_key,
			priority = excluded.priority,
			attempt = excluded.attempt,
			next_attempt_at = excluded.next_attempt_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			status = excluded.status,
			error = excluded.error`
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox/sqlite: insert entry: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// Update replaces an entry by ID. No-op if the ID is absent.
func (s *Store) Update(ctx context.Context, e *outbox.Entry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	args, err := entryArgs(e, s.clock.Now())
	if err != nil {
		return err
	}
	// entryArgs order: id first; UPDATE wants it last.
	args = append(args[1:], args[0])

	const query = `
		UPDATE outbox_entries SET
			channel = ?, payload = ?, headers = ?, idempotency_key = ?,
			priority = ?, attempt = ?, next_attempt_at = ?, created_at = ?,
			updated_at = ?, status = ?, error = ?
		WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox/sqlite: update entry: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*outbox.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM outbox_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, outbox.ErrEntryNotFound
		}
		return nil, fmt.Errorf("outbox/sqlite: get entry: %w", err)
	}
	return e, nil
}

// MarkDone transitions the entry to done and clears its error.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = ?, error = NULL, updated_at = ? WHERE id = ?`,
		string(outbox.StatusDone), s.clock.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: mark done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver always reports affected rows
		return outbox.ErrEntryNotFound
	}

	s.notifyCounts(ctx)
	return nil
}

// MarkFailed requeues the entry with the given schedule, or marks it
// terminally failed when nextAttempt is nil.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, nextAttempt *time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	var res sql.Result
	if nextAttempt != nil {
		res, err = db.ExecContext(ctx,
			`UPDATE outbox_entries SET status = ?, error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
			string(outbox.StatusQueued), errMsg, nextAttempt.UnixMilli(), s.clock.Now().UnixMilli(), id)
	} else {
		res, err = db.ExecContext(ctx,
			`UPDATE outbox_entries SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
			string(outbox.StatusFailed), errMsg, s.clock.Now().UnixMilli(), id)
	}
	if err != nil {
		return fmt.Errorf("outbox/sqlite: mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver always reports affected rows
		return outbox.ErrEntryNotFound
	}

	s.notifyCounts(ctx)
	return nil
}

// PickForProcessing returns up to limit eligible entries ordered by
// priority descending then created_at ascending. Read-only; the
// scheduler claims by updating status.
func (s *Store) PickForProcessing(ctx context.Context, limit int, now time.Time) ([]*outbox.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM outbox_entries
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		string(outbox.StatusQueued), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: pick for processing: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	return collectEntries(rows, "pick for processing")
}

// ListFailed returns permanently failed entries, newest first.
func (s *Store) ListFailed(ctx context.Context, channel string, limit int) ([]*outbox.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entryColumns + ` FROM outbox_entries WHERE status = ?`
	args := []any{string(outbox.StatusFailed)}
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox/sqlite: list failed: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	return collectEntries(rows, "list failed")
}

// ReclaimStuck forces processing entries untouched for olderThan back to
// queued with attempt incremented and error "lock timeout".
func (s *Store) ReclaimStuck(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-olderThan).UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = ?, attempt = attempt + 1, error = 'lock timeout',
		    next_attempt_at = NULL, updated_at = ?
		WHERE status = ? AND updated_at <= ?`,
		string(outbox.StatusQueued), now.UnixMilli(),
		string(outbox.StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox/sqlite: reclaim stuck: %w", err)
	}

	n, _ := res.RowsAffected() //nolint:errcheck // driver always reports affected rows
	if n > 0 {
		s.notifyCounts(ctx)
	}
	return int(n), nil
}

// Clear deletes all entries, or only those of the given channel.
func (s *Store) Clear(ctx context.Context, channel string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if channel == "" {
		_, err = db.ExecContext(ctx, `DELETE FROM outbox_entries`)
	} else {
		_, err = db.ExecContext(ctx, `DELETE FROM outbox_entries WHERE channel = ?`, channel)
	}
	if err != nil {
		return fmt.Errorf("outbox/sqlite: clear: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// Counts tallies entries per status.
func (s *Store) Counts(ctx context.Context) (outbox.StatusCounts, error) {
	db, err := s.conn()
	if err != nil {
		return outbox.StatusCounts{}, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return outbox.StatusCounts{}, fmt.Errorf("outbox/sqlite: counts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var c outbox.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return outbox.StatusCounts{}, fmt.Errorf("outbox/sqlite: counts scan: %w", err)
		}
		switch outbox.Status(status) {
		case outbox.StatusQueued:
			c.Queued = n
		case outbox.StatusProcessing:
			c.Processing = n
		case outbox.StatusDone:
			c.Done = n
		case outbox.StatusFailed:
			c.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return outbox.StatusCounts{}, fmt.Errorf("outbox/sqlite: counts rows: %w", err)
	}
	return c, nil
}

// WatchCount streams pending-entry counts for the channel filter.
func (s *Store) WatchCount(ctx context.Context, channel string) (<-chan int, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}
	initial := s.pendingCount(ctx, channel)
	return s.notifier.Subscribe(ctx, channel, initial), nil
}

// pendingCount counts queued and processing entries for the filter.
// Errors degrade to zero; the next mutation re-publishes a fresh value.
func (s *Store) pendingCount(ctx context.Context, channel string) int {
	db, err := s.conn()
	if err != nil {
		return 0
	}

	query := `SELECT COUNT(*) FROM outbox_entries WHERE status IN (?, ?)`
	args := []any{string(outbox.StatusQueued), string(outbox.StatusProcessing)}
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}

	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0
	}
	return n
}

// notifyCounts pushes fresh counts to all watchers.
func (s *Store) notifyCounts(ctx context.Context) {
	s.notifier.Notify(func(channel string) int {
		return s.pendingCount(ctx, channel)
	})
}

// collectEntries drains a result set into entries.
func collectEntries(rows *sql.Rows, op string) ([]*outbox.Entry, error) {
	var entries []*outbox.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox/sqlite: %s scan: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/sqlite: %s rows: %w", op, err)
	}
	return entries, nil
}
