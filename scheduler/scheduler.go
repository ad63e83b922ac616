// Package scheduler provides the outbox delivery runtime — a cooperative
// loop that claims eligible entries from the store, dispatches them
// through the transport (via middleware), and settles their fate: done,
// retry with backoff, or permanent failure.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/backoff"
	"github.com/atlet99/durable-outbox/channel"
	"github.com/atlet99/durable-outbox/ext"
	"github.com/atlet99/durable-outbox/middleware"
)

// Scheduler drives the claim → send → settle pipeline. All continuations
// run on goroutines it owns; the store is the only shared mutable state.
type Scheduler struct {
	store     outbox.Store
	transport outbox.Transport
	policy    backoff.Policy
	hooks     *ext.Registry
	mw        middleware.Middleware
	channels  *channel.Manager
	clock     outbox.Clock
	logger    *slog.Logger

	concurrency int
	heartbeat   time.Duration
	lockTimeout time.Duration

	mu      sync.Mutex
	running bool
	paused  bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup

	// kickCh wakes the loop for an immediate tick on enqueue or resume.
	kickCh chan struct{}

	// inFlight is the scheduler's private concurrency gate. An entry ID
	// present here is owned by exactly one worker goroutine.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the maximum number of entries in flight.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithHeartbeat sets the periodic tick interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLockTimeout sets how long an entry may sit in processing before
// the watchdog reclaims it. Zero disables reclaiming.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTimeout = d }
}

// WithMiddleware sets the delivery middleware chain. The chain wraps
// every transport send.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Scheduler) { s.mw = middleware.Chain(mws...) }
}

// WithChannelManager sets the per-channel rate limit and concurrency
// manager.
func WithChannelManager(m *channel.Manager) Option {
	return func(s *Scheduler) { s.channels = m }
}

// WithClock sets the time source. Intended for tests.
func WithClock(c outbox.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler over the given store and transport.
func New(store outbox.Store, transport outbox.Transport, policy backoff.Policy, hooks *ext.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		transport:   transport,
		policy:      policy,
		hooks:       hooks,
		clock:       outbox.SystemClock{},
		logger:      slog.Default(),
		concurrency: 3,
		heartbeat:   time.Second,
		lockTimeout: 5 * time.Minute,
		kickCh:      make(chan struct{}, 1),
		inFlight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mw == nil {
		s.mw = middleware.Chain()
	}
	if s.hooks == nil {
		s.hooks = ext.NewRegistry(s.logger)
	}
	return s
}

// Start launches the tick loop and performs one immediate tick.
// Idempotent: calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.paused = false
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		slog.Int("concurrency", s.concurrency),
		slog.Duration("heartbeat", s.heartbeat),
	)

	s.loopWG.Add(1)
	go s.loop(stopCh)
}

// Stop cancels the heartbeat and waits for in-flight sends to complete
// or the context to expire. No new work is claimed after Stop returns.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.loopWG.Wait()
	s.waitInFlight(ctx)
	s.logger.Info("scheduler stopped")
}

// Pause suspends ticking. In-flight sends complete normally.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("scheduler paused")
}

// Resume clears the paused flag and triggers an immediate tick if the
// scheduler is running.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	running := s.running
	s.mu.Unlock()
	s.logger.Info("scheduler resumed")
	if running {
		s.Kick()
	}
}

// Kick requests an immediate tick. Non-blocking; coalesces with any
// pending kick.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsPaused reports whether ticking is suspended.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// loop runs ticks on the heartbeat interval and on kicks until stopped.
func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := context.Background()
	s.tick(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.kickCh:
			s.tick(ctx)
		}
	}
}

// tick claims up to the free concurrency slots of eligible entries and
// spawns a processing goroutine per entry. Returns the number spawned.
func (s *Scheduler) tick(ctx context.Context) int {
	s.mu.Lock()
	if s.paused || !s.running {
		s.mu.Unlock()
		return 0
	}
	s.mu.Unlock()

	s.reclaimStuck(ctx)

	slots := s.concurrency - s.inFlightCount()
	if slots <= 0 {
		return 0
	}

	entries, err := s.store.PickForProcessing(ctx, slots, s.clock.Now())
	if err != nil {
		s.logger.Error("pick for processing failed", slog.String("error", err.Error()))
		return 0
	}

	spawned := 0
	for _, e := range entries {
		if s.inFlightCount() >= s.concurrency {
			break
		}
		if !s.claimSlot(e) {
			continue
		}
		spawned++
		go func(e *outbox.Entry) {
			defer s.releaseSlot(e)
			s.process(ctx, e)
		}(e)
	}
	return spawned
}

// claimSlot registers the entry in the in-flight gate and acquires its
// channel budget. Returns false when the entry is already owned or the
// channel manager refuses it; in both cases the entry stays queued for a
// later tick.
func (s *Scheduler) claimSlot(e *outbox.Entry) bool {
	s.inFlightMu.Lock()
	if _, ok := s.inFlight[e.ID]; ok {
		s.inFlightMu.Unlock()
		return false
	}
	s.inFlight[e.ID] = struct{}{}
	s.inFlightMu.Unlock()

	if s.channels != nil && !s.channels.Acquire(e.Channel) {
		s.untrack(e.ID)
		return false
	}
	return true
}

// releaseSlot undoes claimSlot.
func (s *Scheduler) releaseSlot(e *outbox.Entry) {
	if s.channels != nil {
		s.channels.Release(e.Channel)
	}
	s.untrack(e.ID)
}

func (s *Scheduler) untrack(id string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, id)
	s.inFlightMu.Unlock()
}

func (s *Scheduler) inFlightCount() int {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	return len(s.inFlight)
}

// reclaimStuck returns processing entries that outlived the lock timeout
// to the queue. Catches workers that died between claim and settle.
func (s *Scheduler) reclaimStuck(ctx context.Context) {
	if s.lockTimeout <= 0 {
		return
	}
	n, err := s.store.ReclaimStuck(ctx, s.lockTimeout, s.clock.Now())
	if err != nil {
		s.logger.Error("reclaim stuck entries failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Warn("reclaimed stuck entries", slog.Int("count", n))
		s.hooks.EmitEntryReclaimed(ctx, n)
	}
}

// waitInFlight polls until no sends remain in flight or ctx expires.
func (s *Scheduler) waitInFlight(ctx context.Context) {
	for s.inFlightCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}
