// Package redis implements outbox.Store backed by Redis, for
// deployments that already run Redis and accept its durability
// trade-offs. Entries are stored as Hashes with a Set index for
// enumeration and a Sorted Set as the priority-ordered ready index for
// picking. The single-writer assumption still applies: one outbox
// process per key prefix.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Init(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/store"
)

// Compile-time interface check.
var _ outbox.Store = (*Store)(nil)

// keyPrefix namespaces all outbox keys to avoid collisions.
const keyPrefix = "outbox:"

// entryKey returns the Hash key for an entry: outbox:entry:{id}
func entryKey(id string) string { return keyPrefix + "entry:" + id }

// entryIDsKey is the Set tracking all entry IDs for enumeration.
const entryIDsKey = keyPrefix + "entry_ids"

// queuedKey is the Sorted Set acting as the ready index: it holds the
// IDs of queued entries ordered by entryScore. Eligibility against
// next_attempt_at is checked on read, since picking never mutates.
const queuedKey = keyPrefix + "queued"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source used for update stamps. Intended for
// tests.
func WithClock(c outbox.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store implements outbox.Store over a Redis client. The caller owns the
// client lifecycle; Close does not close it.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	clock  outbox.Clock

	mu          sync.Mutex
	initialized bool
	closed      bool

	notifier *store.CountNotifier
}

// New creates a Redis-backed store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:   client,
		logger:   slog.Default(),
		clock:    outbox.SystemClock{},
		notifier: store.NewCountNotifier(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init verifies connectivity. Idempotent; Redis needs no schema.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return outbox.ErrClosed
	}
	if s.initialized {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("outbox/redis: ping: %w", err)
	}
	s.initialized = true
	return nil
}

// Close releases the store. The Redis client itself stays open for the
// caller to reuse.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.initialized = false
	return nil
}

// ready returns the guard error for the current lifecycle state.
func (s *Store) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return outbox.ErrClosed
	}
	if !s.initialized {
		return outbox.ErrNotInitialized
	}
	return nil
}
