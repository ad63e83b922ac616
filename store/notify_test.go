package store

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return 0
	}
}

func TestSubscribeEmitsInitial(t *testing.T) {
	t.Parallel()

	n := NewCountNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "", 5)
	if v := recv(t, ch); v != 5 {
		t.Fatalf("initial = %d, want 5", v)
	}
}

func TestNotifyDedupesConsecutive(t *testing.T) {
	t.Parallel()

	n := NewCountNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "", 0)
	recv(t, ch)

	n.Notify(func(string) int { return 0 }) // duplicate, suppressed
	n.Notify(func(string) int { return 3 })

	if v := recv(t, ch); v != 3 {
		t.Fatalf("got %d, want 3 (duplicate zero suppressed)", v)
	}
}

func TestNotifyLatestWins(t *testing.T) {
	t.Parallel()

	n := NewCountNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "", 0)
	recv(t, ch)

	// No reader between these: the slot keeps only the newest value.
	n.Notify(func(string) int { return 1 })
	n.Notify(func(string) int { return 2 })
	n.Notify(func(string) int { return 7 })

	if v := recv(t, ch); v != 7 {
		t.Fatalf("got %d, want latest value 7", v)
	}
}

func TestNotifyComputesPerFilterOnce(t *testing.T) {
	t.Parallel()

	n := NewCountNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := n.Subscribe(ctx, "orders", 0)
	b := n.Subscribe(ctx, "orders", 0)
	c := n.Subscribe(ctx, "", 0)
	recv(t, a)
	recv(t, b)
	recv(t, c)

	calls := map[string]int{}
	n.Notify(func(filter string) int {
		calls[filter]++
		return 9
	})

	if calls["orders"] != 1 || calls[""] != 1 {
		t.Fatalf("count calls = %v, want one per distinct filter", calls)
	}
	if recv(t, a) != 9 || recv(t, b) != 9 || recv(t, c) != 9 {
		t.Fatal("all subscribers should see the new value")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	t.Parallel()

	n := NewCountNotifier()
	ctx, cancel := context.WithCancel(context.Background())

	ch := n.Subscribe(ctx, "", 1)
	recv(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed stream after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}

	// A notify after detach must not panic on the closed channel.
	n.Notify(func(string) int { return 2 })
}
