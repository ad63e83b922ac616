// Package netmon provides an advisory network monitor. It periodically
// probes an endpoint and pauses the scheduler while the network is
// unreachable, resuming when connectivity returns. Probe pacing uses
// exponential backoff while offline so a dead link is not hammered.
package netmon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Pauser is the scheduler surface the monitor drives.
type Pauser interface {
	Pause()
	Resume()
}

// Probe checks connectivity. A nil error means online.
type Probe func(ctx context.Context) error

// DialProbe returns a Probe that opens (and immediately closes) a TCP
// connection to addr, e.g. "api.example.com:443".
func DialProbe(addr string, timeout time.Duration) Probe {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Monitor watches connectivity and flips the pauser accordingly.
type Monitor struct {
	probe    Probe
	target   Pauser
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval while online.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor driving target from the given probe.
func New(probe Probe, target Pauser, opts ...Option) *Monitor {
	m := &Monitor{
		probe:    probe,
		target:   target,
		interval: 15 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the probe loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	// Offline probe pacing: exponential, capped at the online interval.
	newBackoff := func() *backoff.ExponentialBackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		if m.interval < bo.InitialInterval {
			bo.InitialInterval = m.interval
		}
		bo.MaxInterval = m.interval
		return bo
	}
	bo := newBackoff()

	online := true
	for {
		err := m.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil && online:
			online = false
			bo = newBackoff()
			m.logger.Warn("network unreachable, pausing outbox", slog.String("error", err.Error()))
			m.target.Pause()
		case err == nil && !online:
			online = true
			m.logger.Info("network recovered, resuming outbox")
			m.target.Resume()
		}

		wait := m.interval
		if !online {
			wait = bo.NextBackOff()
			if wait == backoff.Stop {
				wait = m.interval
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
