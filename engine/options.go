package engine

import (
	"log/slog"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/backoff"
	"github.com/atlet99/durable-outbox/channel"
	"github.com/atlet99/durable-outbox/ext"
	"github.com/atlet99/durable-outbox/middleware"
	"github.com/atlet99/durable-outbox/netmon"
)

// Option configures an Outbox.
type Option func(*Outbox)

// WithConfig replaces the full configuration. Later options still apply
// on top.
func WithConfig(cfg outbox.Config) Option {
	return func(o *Outbox) { o.cfg = cfg }
}

// WithStore sets the persistence backend.
func WithStore(s outbox.Store) Option {
	return func(o *Outbox) { o.store = s }
}

// WithTransport sets the delivery transport.
func WithTransport(t outbox.Transport) Option {
	return func(o *Outbox) { o.transport = t }
}

// WithLogger sets the structured logger for the outbox and every
// component it constructs.
func WithLogger(l *slog.Logger) Option {
	return func(o *Outbox) { o.logger = l }
}

// WithConcurrency sets the maximum number of entries in flight.
func WithConcurrency(n int) Option {
	return func(o *Outbox) { o.cfg.Concurrency = n }
}

// WithAutoStart controls whether Init starts the scheduler and Enqueue
// kicks it.
func WithAutoStart(autoStart bool) Option {
	return func(o *Outbox) { o.cfg.AutoStart = autoStart }
}

// WithRetryPolicy overrides the backoff policy derived from the config.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(o *Outbox) { o.policy = &p }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(o *Outbox) { o.extensions = append(o.extensions, e) }
}

// WithMiddleware appends delivery middleware after the default chain
// (recover, tracing, metrics, logging, timeout).
func WithMiddleware(m middleware.Middleware) Option {
	return func(o *Outbox) { o.mws = append(o.mws, m) }
}

// WithChannelConfig registers per-channel rate limiting and concurrency
// configurations. Channels not listed have no limits.
func WithChannelConfig(configs ...channel.Config) Option {
	return func(o *Outbox) { o.channelConfigs = append(o.channelConfigs, configs...) }
}

// WithClock sets the time source. Intended for tests.
func WithClock(c outbox.Clock) Option {
	return func(o *Outbox) { o.clock = c }
}

// WithNetworkProbe sets the connectivity probe used when
// PauseOnNoNetwork is enabled. There is no default probe: the network
// monitor runs only when PauseOnNoNetwork is set and a probe is given.
// netmon.DialProbe builds a TCP dial probe.
func WithNetworkProbe(p netmon.Probe) Option {
	return func(o *Outbox) { o.probe = p }
}
