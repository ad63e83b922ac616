package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/backoff"
	"github.com/atlet99/durable-outbox/channel"
	"github.com/atlet99/durable-outbox/ext"
	"github.com/atlet99/durable-outbox/middleware"
	"github.com/atlet99/durable-outbox/netmon"
	"github.com/atlet99/durable-outbox/observability"
	"github.com/atlet99/durable-outbox/scheduler"
)

// Outbox is the user-facing facade. Create one with New, call Init
// before anything else, and Close when done.
type Outbox struct {
	cfg       outbox.Config
	store     outbox.Store
	transport outbox.Transport
	logger    *slog.Logger
	clock     outbox.Clock

	policy         *backoff.Policy
	extensions     []ext.Extension
	mws            []middleware.Middleware
	channelConfigs []channel.Config
	probe          netmon.Probe

	hooks *ext.Registry
	sched *scheduler.Scheduler
	mon   *netmon.Monitor

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// New creates an Outbox from functional options. A store and a transport
// are required.
func New(opts ...Option) (*Outbox, error) {
	o := &Outbox{
		cfg:    outbox.DefaultConfig(),
		logger: slog.Default(),
		clock:  outbox.SystemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		return nil, outbox.ErrNoStore
	}
	if o.transport == nil {
		return nil, outbox.ErrNoTransport
	}

	if o.policy == nil {
		p := backoff.Policy{
			BaseDelay:   o.cfg.Retry.BaseDelay,
			MaxDelay:    o.cfg.Retry.MaxDelay,
			MaxAttempts: o.cfg.Retry.MaxAttempts,
		}
		o.policy = &p
	}

	o.hooks = ext.NewRegistry(o.logger)
	o.hooks.Register(observability.NewMetricsExtension())
	for _, e := range o.extensions {
		o.hooks.Register(e)
	}

	return o, nil
}

// Init initializes the store, constructs the scheduler, and — when
// AutoStart is set — starts it. Idempotent.
func (o *Outbox) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return outbox.ErrClosed
	}
	if o.initialized {
		return nil
	}

	if err := o.store.Init(ctx); err != nil {
		return fmt.Errorf("outbox: init store: %w", err)
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// timeout, then user middleware closest to the transport.
	mws := []middleware.Middleware{
		middleware.Recover(o.logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(o.logger),
		middleware.Timeout(o.cfg.SendTimeout),
	}
	mws = append(mws, o.mws...)

	schedOpts := []scheduler.Option{
		scheduler.WithConcurrency(o.cfg.Concurrency),
		scheduler.WithHeartbeat(o.cfg.Heartbeat),
		scheduler.WithLockTimeout(o.cfg.LockTimeout),
		scheduler.WithMiddleware(mws...),
		scheduler.WithClock(o.clock),
		scheduler.WithLogger(o.logger),
	}
	if len(o.channelConfigs) > 0 {
		schedOpts = append(schedOpts, scheduler.WithChannelManager(channel.NewManager(o.channelConfigs...)))
	}

	o.sched = scheduler.New(o.store, o.transport, *o.policy, o.hooks, schedOpts...)

	if o.cfg.AutoStart {
		o.sched.Start()
	}

	if o.cfg.PauseOnNoNetwork && o.probe != nil {
		o.mon = netmon.New(o.probe, o.sched, netmon.WithLogger(o.logger))
		o.mon.Start()
	}

	o.initialized = true
	return nil
}

// EnqueueOption customizes a single enqueued entry.
type EnqueueOption func(*outbox.Entry)

// WithHeaders attaches transport headers to the entry.
func WithHeaders(h map[string]string) EnqueueOption {
	return func(e *outbox.Entry) { e.Headers = h }
}

// WithIdempotencyKey sets the dedup hint carried to the transport.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(e *outbox.Entry) { e.IdempotencyKey = key }
}

// WithPriority sets the entry priority. Higher wins; may be negative.
func WithPriority(p int) EnqueueOption {
	return func(e *outbox.Entry) { e.Priority = p }
}

// WithNotBefore delays the first delivery attempt until t.
func WithNotBefore(t time.Time) EnqueueOption {
	return func(e *outbox.Entry) {
		ts := t
		e.NextAttemptAt = &ts
	}
}

// Enqueue serializes payload, inserts a new entry on the channel, and —
// when AutoStart is set — kicks the scheduler. Returns the generated
// entry ID.
func (o *Outbox) Enqueue(ctx context.Context, ch string, payload any, opts ...EnqueueOption) (string, error) {
	if err := o.guard(); err != nil {
		return "", err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("outbox: marshal payload for channel %q: %w", ch, err)
	}

	now := o.clock.Now()
	e := &outbox.Entry{
		ID:        uuid.NewString(),
		Channel:   ch,
		Payload:   data,
		Status:    outbox.StatusQueued,
		CreatedAt: now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.Validate(); err != nil {
		return "", err
	}
	if err := o.store.Insert(ctx, e); err != nil {
		return "", err
	}

	o.hooks.EmitEntryEnqueued(ctx, e)

	if o.cfg.AutoStart {
		o.sched.Kick()
	}
	return e.ID, nil
}

// Drain processes entries until no ready work remains and nothing is in
// flight. Works even when the scheduler is stopped.
func (o *Outbox) Drain(ctx context.Context) error {
	if err := o.guard(); err != nil {
		return err
	}
	return o.sched.Drain(ctx)
}

// Pause suspends delivery. In-flight sends complete normally.
func (o *Outbox) Pause() error {
	if err := o.guard(); err != nil {
		return err
	}
	o.sched.Pause()
	return nil
}

// Resume reenables delivery and triggers an immediate tick.
func (o *Outbox) Resume() error {
	if err := o.guard(); err != nil {
		return err
	}
	o.sched.Resume()
	return nil
}

// Clear deletes all entries, or only those of the given channel.
func (o *Outbox) Clear(ctx context.Context, ch string) error {
	if err := o.guard(); err != nil {
		return err
	}
	return o.store.Clear(ctx, ch)
}

// ListFailed returns permanently failed entries for inspection, newest
// first. An empty channel lists all channels; limit <= 0 means no limit.
func (o *Outbox) ListFailed(ctx context.Context, ch string, limit int) ([]*outbox.Entry, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	return o.store.ListFailed(ctx, ch, limit)
}

// Replay resets a permanently failed entry for redelivery: attempt zero,
// error cleared, immediately eligible. Returns ErrNotFailed for entries
// in any other state.
func (o *Outbox) Replay(ctx context.Context, id string) error {
	if err := o.guard(); err != nil {
		return err
	}

	e, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != outbox.StatusFailed {
		return outbox.ErrNotFailed
	}

	replayed := e.With(func(c *outbox.Entry) {
		c.Status = outbox.StatusQueued
		c.Attempt = 0
		c.Error = ""
		c.NextAttemptAt = nil
	})
	if err := o.store.Update(ctx, replayed); err != nil {
		return err
	}

	o.hooks.EmitEntryReplayed(ctx, replayed)

	if o.cfg.AutoStart {
		o.sched.Kick()
	}
	return nil
}

// Close stops the network monitor and scheduler, notifies extensions,
// and closes the store. The outbox cannot be reused afterwards.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	initialized := o.initialized
	o.initialized = false
	o.mu.Unlock()

	if !initialized {
		return nil
	}

	if o.mon != nil {
		o.mon.Stop()
	}
	o.sched.Stop(ctx)
	o.hooks.EmitShutdown(ctx)

	if err := o.store.Close(); err != nil {
		return fmt.Errorf("outbox: close store: %w", err)
	}
	return nil
}

// guard returns the lifecycle error for operations requiring Init.
func (o *Outbox) guard() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return outbox.ErrClosed
	}
	if !o.initialized {
		return outbox.ErrNotInitialized
	}
	return nil
}
