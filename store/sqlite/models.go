package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/atlet99/durable-outbox"
)

// entryColumns is the select list shared by every read query. Order
// must match scanEntry.
const entryColumns = `id, channel, payload, headers, idempotency_key,
	priority, attempt, next_attempt_at, created_at, updated_at, status, error`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row into an Entry. Timestamps are stored as epoch
// milliseconds.
func scanEntry(row rowScanner) (*outbox.Entry, error) {
	var (
		e             outbox.Entry
		payload       string
		headers       sql.NullString
		idempotency   sql.NullString
		nextAttemptMs sql.NullInt64
		createdMs     int64
		updatedMs     int64
		status        string
		errMsg        sql.NullString
	)

	err := row.Scan(&e.ID, &e.Channel, &payload, &headers, &idempotency,
		&e.Priority, &e.Attempt, &nextAttemptMs, &createdMs, &updatedMs, &status, &errMsg)
	if err != nil {
		return nil, err
	}

	e.Payload = json.RawMessage(payload)
	e.IdempotencyKey = idempotency.String
	e.CreatedAt = time.UnixMilli(createdMs).UTC()
	e.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	e.Status = outbox.Status(status)
	e.Error = errMsg.String

	if nextAttemptMs.Valid {
		t := time.UnixMilli(nextAttemptMs.Int64).UTC()
		e.NextAttemptAt = &t
	}
	if headers.Valid && headers.String != "" && headers.String != "null" {
		if err := json.Unmarshal([]byte(headers.String), &e.Headers); err != nil {
			return nil, fmt.Errorf("outbox/sqlite: decode headers for %s: %w", e.ID, err)
		}
	}

	return &e, nil
}

// entryArgs flattens an Entry into insert/update arguments in
// entryColumns order.
func entryArgs(e *outbox.Entry, updatedAt time.Time) ([]any, error) {
	var headers any
	if len(e.Headers) > 0 {
		data, err := json.Marshal(e.Headers)
		if err != nil {
			return nil, fmt.Errorf("outbox/sqlite: encode headers for %s: %w", e.ID, err)
		}
		headers = string(data)
	}

	var idempotency any
	if e.IdempotencyKey != "" {
		idempotency = e.IdempotencyKey
	}

	var nextAttempt any
	if e.NextAttemptAt != nil {
		nextAttempt = e.NextAttemptAt.UnixMilli()
	}

	var errMsg any
	if e.Error != "" {
		errMsg = e.Error
	}

	return []any{
		e.ID,
		e.Channel,
		string(e.Payload),
		headers,
		idempotency,
		e.Priority,
		e.Attempt,
		nextAttempt,
		e.CreatedAt.UnixMilli(),
		updatedAt.UnixMilli(),
		string(e.Status),
		errMsg,
	}, nil
}
