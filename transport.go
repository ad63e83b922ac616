package outbox

import (
	"context"
	"time"
)

// SendResult is the outcome of a single delivery attempt.
type SendResult struct {
	// Success means the entry was delivered (or the server already
	// processed it) and must be marked done.
	Success bool

	// PermanentlyFailed means the entry must not be retried.
	PermanentlyFailed bool

	// Error describes the failure for diagnostics. Ignored on success.
	Error string

	// RetryAfter, when non-nil, is a server-requested minimum wait before
	// the next attempt. The scheduler clamps the computed backoff to it.
	RetryAfter *time.Duration
}

// Transport delivers a single entry to the external endpoint. The core
// never inspects the payload; it only observes the result shape.
//
// A returned error is treated as an unexpected processing failure and
// follows the transient-retry path. Expected delivery failures (network
// errors, retryable statuses) should be reported through SendResult with
// a nil error.
type Transport interface {
	Send(ctx context.Context, e *Entry) (SendResult, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, e *Entry) (SendResult, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, e *Entry) (SendResult, error) {
	return f(ctx, e)
}
