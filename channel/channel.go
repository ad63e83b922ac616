// Package channel provides per-channel rate limiting and concurrency
// caps consulted by the scheduler before dispatching an entry.
package channel

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-channel behaviour.
type Config struct {
	// Name is the channel identifier (must match the entry's Channel).
	Name string

	// MaxConcurrency limits how many entries from this channel may be
	// in flight simultaneously. Zero means no channel-specific limit
	// (the scheduler-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second from
	// this channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// channelState tracks runtime state for a single channel.
type channelState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-channel rate limiting and concurrency.
// It is safe for concurrent use. Channels without a Config have no
// limits.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewManager creates a Manager with the given channel configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		channels: make(map[string]*channelState, len(configs)),
	}
	for _, cfg := range configs {
		m.channels[cfg.Name] = newChannelState(cfg)
	}
	return m
}

func newChannelState(cfg Config) *channelState {
	cs := &channelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks rate limits and concurrency for the given channel.
// If dispatch is allowed it increments the active counter and returns
// true. The caller MUST call Release when the send completes.
func (m *Manager) Acquire(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.channels[channel]
	if cs == nil {
		return true
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
		return false
	}

	cs.active++
	return true
}

// Release decrements the active count for the channel.
func (m *Manager) Release(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// Active returns the in-flight count for a channel. Channels without a
// config always report zero.
func (m *Manager) Active(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}
