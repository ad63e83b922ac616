package backoff

import (
	"testing"
	"time"
)

func TestNextDelayBounds(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, MaxAttempts: 8}

	tests := []struct {
		name string
		prev time.Duration
		lo   time.Duration
		hi   time.Duration
	}{
		{"zero prev seeds from base", 0, 100 * time.Millisecond, 300 * time.Millisecond},
		{"prev below base clamps up", 10 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond},
		{"prev inside range", time.Second, 100 * time.Millisecond, 3 * time.Second},
		{"prev near cap clamps hi", 5 * time.Second, 100 * time.Millisecond, 10 * time.Second},
		{"prev beyond cap clamps hi", time.Hour, 100 * time.Millisecond, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for range 200 {
				d := p.NextDelay(tt.prev)
				if d < tt.lo || d > tt.hi {
					t.Fatalf("NextDelay(%v) = %v, want in [%v, %v]", tt.prev, d, tt.lo, tt.hi)
				}
			}
		})
	}
}

func TestNextDelayDegenerateRange(t *testing.T) {
	t.Parallel()

	// base*3 > cap and prev at base collapses the window to [base, base].
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Second, MaxAttempts: 8}
	for range 50 {
		if d := p.NextDelay(0); d != time.Second {
			t.Fatalf("NextDelay = %v, want exactly 1s", d)
		}
	}
}

func TestNextAttemptSentinel(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := p.NextAttempt(p.MaxAttempts, now, 0)
	if want := now.Add(NeverRetryInterval); !got.Equal(want) {
		t.Fatalf("NextAttempt at max attempts = %v, want %v", got, want)
	}

	got = p.NextAttempt(p.MaxAttempts+3, now, 0)
	if want := now.Add(NeverRetryInterval); !got.Equal(want) {
		t.Fatalf("NextAttempt beyond max attempts = %v, want %v", got, want)
	}

	got = p.NextAttempt(1, now, 0)
	if !got.After(now) || got.After(now.Add(p.MaxDelay)) {
		t.Fatalf("NextAttempt(1) = %v, want within (%v, %v]", got, now, now.Add(p.MaxDelay))
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Class
	}{
		{200, ClassSuccess},
		{201, ClassSuccess},
		{204, ClassSuccess},
		{301, ClassTransient},
		{302, ClassTransient},
		{400, ClassPermanent},
		{403, ClassPermanent},
		{404, ClassPermanent},
		{408, ClassTransient},
		{409, ClassPermanent},
		{422, ClassPermanent},
		{429, ClassTransient},
		{500, ClassTransient},
		{502, ClassTransient},
		{503, ClassTransient},
	}

	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Fatalf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}

	if !Retryable(503) {
		t.Fatal("503 should be retryable")
	}
	if Retryable(404) {
		t.Fatal("404 should not be retryable")
	}
}
