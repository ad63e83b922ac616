// Package ext defines the extension system for the outbox.
// Extensions are notified of lifecycle events (entry enqueued, delivered,
// retrying, failed, etc.) and can react to them — metrics, auditing,
// alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/atlet99/durable-outbox"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// EntryEnqueued is called after an entry is successfully inserted.
type EntryEnqueued interface {
	OnEntryEnqueued(ctx context.Context, e *outbox.Entry) error
}

// EntryDelivered is called after an entry is delivered and marked done.
type EntryDelivered interface {
	OnEntryDelivered(ctx context.Context, e *outbox.Entry, elapsed time.Duration) error
}

// EntryRetrying is called when a delivery fails transiently and the entry
// is rescheduled.
type EntryRetrying interface {
	OnEntryRetrying(ctx context.Context, e *outbox.Entry, attempt int, nextAttemptAt time.Time) error
}

// EntryFailed is called when an entry fails permanently.
type EntryFailed interface {
	OnEntryFailed(ctx context.Context, e *outbox.Entry, err error) error
}

// EntryReplayed is called when a failed entry is reset for redelivery.
type EntryReplayed interface {
	OnEntryReplayed(ctx context.Context, e *outbox.Entry) error
}

// EntryReclaimed is called when the watchdog returns stuck processing
// entries to the queue.
type EntryReclaimed interface {
	OnEntryReclaimed(ctx context.Context, count int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
