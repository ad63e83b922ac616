package outbox

import (
	"context"
	"time"
)

// StatusCounts is a point-in-time tally of entries per status.
type StatusCounts struct {
	Queued     int
	Processing int
	Done       int
	Failed     int
}

// Pending is the number of entries still owed a delivery.
func (c StatusCounts) Pending() int {
	return c.Queued + c.Processing
}

// Store defines the persistence contract for outbox entries.
//
// All operations except Init and Close fail with ErrNotInitialized until
// Init has been called. Operations are serializable at the granularity of a single
// entry; callers may interleave operations on different entries.
type Store interface {
	// Init creates the backing schema if missing. Idempotent.
	Init(ctx context.Context) error

	// Insert upserts an entry by ID and signals count watchers.
	// Re-inserting an existing ID replaces the record in place.
	Insert(ctx context.Context, e *Entry) error

	// Update replaces an entry by ID. It is a no-op if the ID is absent,
	// so settle paths may be retried freely.
	Update(ctx context.Context, e *Entry) error

	// Get retrieves an entry by ID.
	Get(ctx context.Context, id string) (*Entry, error)

	// MarkDone transitions the entry to done and clears its error.
	MarkDone(ctx context.Context, id string) error

	// MarkFailed records a failure. When nextAttempt is non-nil the entry
	// returns to queued with that schedule (the retry path); when nil the
	// entry transitions to terminal failed.
	MarkFailed(ctx context.Context, id string, errMsg string, nextAttempt *time.Time) error

	// PickForProcessing returns up to limit queued entries whose
	// next_attempt_at is unset or at/before now, ordered by priority
	// descending then created_at ascending. It only reads; claiming is
	// the scheduler's job via Update.
	PickForProcessing(ctx context.Context, limit int, now time.Time) ([]*Entry, error)

	// ListFailed returns permanently failed entries, optionally filtered
	// by channel, newest first. limit <= 0 means no limit.
	ListFailed(ctx context.Context, channel string, limit int) ([]*Entry, error)

	// ReclaimStuck forces processing entries not touched for olderThan
	// back to queued with attempt incremented and error "lock timeout".
	// Returns the number of entries reclaimed.
	ReclaimStuck(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	// Clear deletes all entries, or only those in the given channel when
	// channel is non-empty.
	Clear(ctx context.Context, channel string) error

	// Counts tallies entries per status.
	Counts(ctx context.Context) (StatusCounts, error)

	// WatchCount returns a stream of pending-entry counts (queued plus
	// processing), optionally filtered by channel. The first emission is
	// the current count; subsequent emissions follow mutations.
	// Consecutive duplicates may be suppressed. The stream closes when
	// ctx is done.
	WatchCount(ctx context.Context, channel string) (<-chan int, error)

	// Close releases the store. Further operations fail with ErrClosed.
	Close() error
}
