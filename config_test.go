package outbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Concurrency != 3 {
		t.Fatalf("Concurrency = %d, want 3", cfg.Concurrency)
	}
	if !cfg.AutoStart {
		t.Fatal("AutoStart should default to true")
	}
	if cfg.Heartbeat != time.Second {
		t.Fatalf("Heartbeat = %v, want 1s", cfg.Heartbeat)
	}
	if cfg.LockTimeout != 5*time.Minute {
		t.Fatalf("LockTimeout = %v, want 5m", cfg.LockTimeout)
	}
	if cfg.Retry.BaseDelay != 500*time.Millisecond || cfg.Retry.MaxDelay != 60*time.Second || cfg.Retry.MaxAttempts != 8 {
		t.Fatalf("Retry defaults = %+v", cfg.Retry)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverlay(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
concurrency: 8
auto_start: false
heartbeat: 250ms
retry:
  base_delay: 100ms
  max_attempts: 5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Concurrency != 8 {
		t.Fatalf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.AutoStart {
		t.Fatal("AutoStart should be overridden to false")
	}
	if cfg.Heartbeat != 250*time.Millisecond {
		t.Fatalf("Heartbeat = %v, want 250ms", cfg.Heartbeat)
	}
	if cfg.Retry.BaseDelay != 100*time.Millisecond {
		t.Fatalf("Retry.BaseDelay = %v, want 100ms", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	// Untouched keys keep their defaults.
	if cfg.LockTimeout != 5*time.Minute {
		t.Fatalf("LockTimeout = %v, want default 5m", cfg.LockTimeout)
	}
	if cfg.Retry.MaxDelay != 60*time.Second {
		t.Fatalf("Retry.MaxDelay = %v, want default 60s", cfg.Retry.MaxDelay)
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "heartbeat: soon\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
