// Package memory provides a fully in-memory outbox.Store. Safe for
// concurrent access. Intended for unit testing and development; it
// implements the same contract as the persistent backends, including
// count watching and stuck-entry reclaim.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/store"
)

// Ensure Store implements the contract at compile time.
var _ outbox.Store = (*Store)(nil)

// Store keeps entries in a map guarded by a RWMutex. Entries are copied
// on the way in and out so callers can mutate without racing the store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*outbox.Entry

	initialized bool
	closed      bool

	notifier *store.CountNotifier
	clock    outbox.Clock
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source used for update stamps. Intended for
// tests.
func WithClock(c outbox.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*outbox.Entry),
		notifier: store.NewCountNotifier(),
		clock:    outbox.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init marks the store ready. Idempotent.
func (s *Store) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return outbox.ErrClosed
	}
	s.initialized = true
	return nil
}

// Close releases the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.initialized = false
	return nil
}

// ready returns the guard error for the current lifecycle state.
func (s *Store) ready() error {
	if s.closed {
		return outbox.ErrClosed
	}
	if !s.initialized {
		return outbox.ErrNotInitialized
	}
	return nil
}

// Insert upserts an entry by ID and signals count watchers.
func (s *Store) Insert(_ context.Context, e *outbox.Entry) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	cp := e.Clone()
	cp.UpdatedAt = s.clock.Now()
	s.entries[cp.ID] = cp
	s.mu.Unlock()

	s.notifyCounts()
	return nil
}

// Update replaces an entry by ID. No-op if the ID is absent.
func (s *Store) Update(_ context.Context, e *outbox.Entry) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.entries[e.ID]; !ok {
		s.mu.Unlock()
		return nil
	}
	cp := e.Clone()
	cp.UpdatedAt = s.clock.Now()
	s.entries[cp.ID] = cp
	s.mu.Unlock()

	s.notifyCounts()
	return nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(_ context.Context, id string) (*outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, outbox.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// MarkDone transitions the entry to done and clears its error.
func (s *Store) MarkDone(_ context.Context, id string) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return outbox.ErrEntryNotFound
	}
	e.Status = outbox.StatusDone
	e.Error = ""
	e.UpdatedAt = s.clock.Now()
	s.mu.Unlock()

	s.notifyCounts()
	return nil
}

// MarkFailed requeues the entry with the given schedule, or marks it
// terminally failed when nextAttempt is nil.
func (s *Store) MarkFailed(_ context.Context, id string, errMsg string, nextAttempt *time.Time) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return outbox.ErrEntryNotFound
	}
	e.Error = errMsg
	e.UpdatedAt = s.clock.Now()
	if nextAttempt != nil {
		t := *nextAttempt
		e.Status = outbox.StatusQueued
		e.NextAttemptAt = &t
	} else {
		e.Status = outbox.StatusFailed
	}
	s.mu.Unlock()

	s.notifyCounts()
	return nil
}

// PickForProcessing returns up to limit eligible entries ordered by
// priority descending then created_at ascending. Read-only.
func (s *Store) PickForProcessing(_ context.Context, limit int, now time.Time) ([]*outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	candidates := make([]*outbox.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Eligible(now) {
			candidates = append(candidates, e)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*outbox.Entry, len(candidates))
	for i, e := range candidates {
		result[i] = e.Clone()
	}
	return result, nil
}

// ListFailed returns permanently failed entries, newest first.
func (s *Store) ListFailed(_ context.Context, channel string, limit int) ([]*outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	failed := make([]*outbox.Entry, 0)
	for _, e := range s.entries {
		if e.Status != outbox.StatusFailed {
			continue
		}
		if channel != "" && e.Channel != channel {
			continue
		}
		failed = append(failed, e)
	}

	sort.Slice(failed, func(i, k int) bool {
		return failed[i].CreatedAt.After(failed[k].CreatedAt)
	})

	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}

	result := make([]*outbox.Entry, len(failed))
	for i, e := range failed {
		result[i] = e.Clone()
	}
	return result, nil
}

// ReclaimStuck forces processing entries untouched for olderThan back to
// queued with attempt incremented and error "lock timeout".
func (s *Store) ReclaimStuck(_ context.Context, olderThan time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	cutoff := now.Add(-olderThan)
	reclaimed := 0
	for _, e := range s.entries {
		if e.Status != outbox.StatusProcessing {
			continue
		}
		if e.UpdatedAt.After(cutoff) {
			continue
		}
		e.Status = outbox.StatusQueued
		e.Attempt++
		e.Error = "lock timeout"
		e.NextAttemptAt = nil
		e.UpdatedAt = now
		reclaimed++
	}
	s.mu.Unlock()

	if reclaimed > 0 {
		s.notifyCounts()
	}
	return reclaimed, nil
}

// Clear deletes all entries, or only those of the given channel.
func (s *Store) Clear(_ context.Context, channel string) error {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return err
	}
	if channel == "" {
		s.entries = make(map[string]*outbox.Entry)
	} else {
		for id, e := range s.entries {
			if e.Channel == channel {
				delete(s.entries, id)
			}
		}
	}
	s.mu.Unlock()

	s.notifyCounts()
	return nil
}

// Counts tallies entries per status.
func (s *Store) Counts(_ context.Context) (outbox.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return outbox.StatusCounts{}, err
	}
	return s.countsLocked(), nil
}

func (s *Store) countsLocked() outbox.StatusCounts {
	var c outbox.StatusCounts
	for _, e := range s.entries {
		switch e.Status {
		case outbox.StatusQueued:
			c.Queued++
		case outbox.StatusProcessing:
			c.Processing++
		case outbox.StatusDone:
			c.Done++
		case outbox.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// WatchCount streams pending-entry counts for the channel filter.
func (s *Store) WatchCount(ctx context.Context, channel string) (<-chan int, error) {
	s.mu.RLock()
	if err := s.ready(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	initial := s.pendingLocked(channel)
	s.mu.RUnlock()

	return s.notifier.Subscribe(ctx, channel, initial), nil
}

// pendingLocked counts queued and processing entries for the filter.
func (s *Store) pendingLocked(channel string) int {
	n := 0
	for _, e := range s.entries {
		if e.Status.Terminal() {
			continue
		}
		if channel != "" && e.Channel != channel {
			continue
		}
		n++
	}
	return n
}

// notifyCounts pushes fresh counts to all watchers.
func (s *Store) notifyCounts() {
	s.notifier.Notify(func(channel string) int {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.pendingLocked(channel)
	})
}
