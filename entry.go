package outbox

import (
	"time"

	json "github.com/goccy/go-json"
)

// MaxIdempotencyKeyLen is the longest idempotency key carried to a transport.
const MaxIdempotencyKeyLen = 256

// Entry is a unit of queued work. Entries are treated as immutable values:
// the store is the only writer, and mutations go through Clone/With copies
// so in-flight readers never observe partial updates.
type Entry struct {
	ID             string            `json:"id"`
	Channel        string            `json:"channel"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Priority       int               `json:"priority"`
	Attempt        int               `json:"attempt"`
	NextAttemptAt  *time.Time        `json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Status         Status            `json:"status"`
	Error          string            `json:"error,omitempty"`
}

// Validate checks required fields and payload JSON validity.
func (e *Entry) Validate() error {
	if e.Channel == "" {
		return ErrChannelRequired
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}
	if len(e.IdempotencyKey) > MaxIdempotencyKeyLen {
		return ErrIdempotencyKeyTooLong
	}
	return nil
}

// Clone returns a deep copy of the entry. Headers and payload are copied
// so the result shares no mutable state with the original.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	if e.NextAttemptAt != nil {
		t := *e.NextAttemptAt
		cp.NextAttemptAt = &t
	}
	return &cp
}

// With returns a copy of the entry with mutate applied. This is the
// copy-and-update operation used by the scheduler for claim and settle.
func (e *Entry) With(mutate func(*Entry)) *Entry {
	cp := e.Clone()
	mutate(cp)
	return cp
}

// Eligible reports whether the entry is claimable at the given instant:
// queued, and either unscheduled or scheduled at or before now.
func (e *Entry) Eligible(now time.Time) bool {
	if e.Status != StatusQueued {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}
