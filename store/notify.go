package store

import (
	"context"
	"sync"
)

// subscriber is one WatchCount stream. The channel is buffered with a
// single latest-wins slot so slow consumers never block mutations.
type subscriber struct {
	channel string
	ch      chan int
	last    int
	hasLast bool
}

// push delivers v to the subscriber, suppressing consecutive duplicates
// and replacing any undelivered previous value.
func (s *subscriber) push(v int) {
	if s.hasLast && v == s.last {
		return
	}
	s.last, s.hasLast = v, true

	select {
	case s.ch <- v:
		return
	default:
	}
	// Slot occupied: drop the stale value and retry once. If a racing
	// receiver grabs the slot in between, it just consumed a fresher
	// value than the stale one, so losing this send is harmless.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
}

// CountNotifier fans pending-entry counts out to WatchCount subscribers.
// Stores call Notify after every mutation; the notifier computes the
// count once per distinct channel filter. Safe for concurrent use.
type CountNotifier struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewCountNotifier creates an empty notifier.
func NewCountNotifier() *CountNotifier {
	return &CountNotifier{subs: make(map[int]*subscriber)}
}

// Subscribe registers a watcher for the given channel filter ("" watches
// all channels) and emits the initial count immediately. The stream is
// detached and closed when ctx is done.
func (n *CountNotifier) Subscribe(ctx context.Context, channel string, initial int) <-chan int {
	sub := &subscriber{channel: channel, ch: make(chan int, 1)}
	sub.push(initial)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = sub
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Notify recomputes counts for every subscribed filter and pushes them.
// count is called at most once per distinct filter.
func (n *CountNotifier) Notify(count func(channel string) int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.subs) == 0 {
		return
	}

	cache := make(map[string]int)
	for _, sub := range n.subs {
		v, ok := cache[sub.channel]
		if !ok {
			v = count(sub.channel)
			cache[sub.channel] = v
		}
		sub.push(v)
	}
}
