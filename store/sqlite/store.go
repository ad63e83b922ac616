// Package sqlite provides a durable outbox.Store backed by a single
// SQLite database file (modernc.org/sqlite, no cgo). Reopening the same
// file recovers all entries verbatim. At most one outbox process may
// operate on a given file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // register the "sqlite" database/sql driver

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/store"
)

// Ensure Store implements the contract at compile time.
var _ outbox.Store = (*Store)(nil)

// Store persists entries in a SQLite file. Each logical operation runs
// as a single statement (or short transaction), which keeps single-entry
// atomicity across interleaved awaits.
type Store struct {
	path   string
	logger *slog.Logger
	clock  outbox.Clock

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
	closed      bool

	notifier *store.CountNotifier
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the time source used for update stamps. Intended for
// tests.
func WithClock(c outbox.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a Store for the given database file path. The file and
// its parent directory are created on Init.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		logger:   slog.Default(),
		clock:    outbox.SystemClock{},
		notifier: store.NewCountNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens the database, applies pragmas, and migrates the schema.
// Idempotent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return outbox.ErrClosed
	}
	if s.initialized {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("outbox/sqlite: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("outbox/sqlite: open %s: %w", s.path, err)
	}
	// A single connection serializes writers and keeps busy_timeout
	// behaviour predictable under WAL.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.initialized = true
	s.logger.Debug("sqlite store initialized", slog.String("path", s.path))
	return nil
}

// Close closes the database. Further operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.initialized = false
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("outbox/sqlite: close: %w", err)
	}
	return nil
}

// conn returns the open handle or the lifecycle guard error.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, outbox.ErrClosed
	}
	if !s.initialized || s.db == nil {
		return nil, outbox.ErrNotInitialized
	}
	return s.db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("outbox/sqlite: set journal_mode=wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("outbox/sqlite: set synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("outbox/sqlite: set busy_timeout: %w", err)
	}
	return nil
}
