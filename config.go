package outbox

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig holds the decorrelated-jitter retry policy parameters.
type RetryConfig struct {
	// BaseDelay is the minimum retry delay and the first-retry seed.
	BaseDelay time.Duration

	// MaxDelay is the upper bound on any jittered retry delay.
	MaxDelay time.Duration

	// MaxAttempts is the attempt count after which transient failures
	// are scheduled effectively never.
	MaxAttempts int
}

// Config holds configuration for an Outbox.
type Config struct {
	// Concurrency is the maximum number of entries in flight.
	Concurrency int

	// AutoStart starts the scheduler on Init and kicks it on Enqueue.
	AutoStart bool

	// Heartbeat is the periodic tick interval.
	Heartbeat time.Duration

	// LockTimeout is how long an entry may sit in processing before the
	// watchdog reclaims it.
	LockTimeout time.Duration

	// SendTimeout is the per-send deadline applied by the timeout
	// middleware. Zero disables it.
	SendTimeout time.Duration

	// PauseOnNoNetwork enables the advisory network monitor, which
	// pauses the scheduler while the probe endpoint is unreachable.
	PauseOnNoNetwork bool

	// Retry configures the backoff policy.
	Retry RetryConfig
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 3,
		AutoStart:   true,
		Heartbeat:   1 * time.Second,
		LockTimeout: 5 * time.Minute,
		SendTimeout: 15 * time.Second,
		Retry: RetryConfig{
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    60 * time.Second,
			MaxAttempts: 8,
		},
	}
}

// fileConfig mirrors Config with string durations for YAML decoding.
type fileConfig struct {
	Concurrency      *int   `yaml:"concurrency"`
	AutoStart        *bool  `yaml:"auto_start"`
	Heartbeat        string `yaml:"heartbeat"`
	LockTimeout      string `yaml:"lock_timeout"`
	SendTimeout      string `yaml:"send_timeout"`
	PauseOnNoNetwork *bool  `yaml:"pause_on_no_network"`
	Retry            struct {
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
		MaxAttempts *int   `yaml:"max_attempts"`
	} `yaml:"retry"`
}

// LoadConfig reads a YAML config file and overlays it on DefaultConfig.
// Absent keys keep their defaults; duration values use Go syntax ("1s",
// "500ms", "5m").
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("outbox: read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("outbox: parse config %s: %w", path, err)
	}

	if fc.Concurrency != nil {
		cfg.Concurrency = *fc.Concurrency
	}
	if fc.AutoStart != nil {
		cfg.AutoStart = *fc.AutoStart
	}
	if fc.PauseOnNoNetwork != nil {
		cfg.PauseOnNoNetwork = *fc.PauseOnNoNetwork
	}
	if fc.Retry.MaxAttempts != nil {
		cfg.Retry.MaxAttempts = *fc.Retry.MaxAttempts
	}

	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.Heartbeat, &cfg.Heartbeat, "heartbeat"},
		{fc.LockTimeout, &cfg.LockTimeout, "lock_timeout"},
		{fc.SendTimeout, &cfg.SendTimeout, "send_timeout"},
		{fc.Retry.BaseDelay, &cfg.Retry.BaseDelay, "retry.base_delay"},
		{fc.Retry.MaxDelay, &cfg.Retry.MaxDelay, "retry.max_delay"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, parseErr := time.ParseDuration(d.raw)
		if parseErr != nil {
			return cfg, fmt.Errorf("outbox: config %s: invalid %s %q: %w", path, d.key, d.raw, parseErr)
		}
		*d.dst = v
	}

	return cfg, nil
}
