package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Drain processes entries until a pick of concurrency entries returns
// empty and nothing remains in flight. It works on a stopped scheduler
// by temporarily impersonating a running one, restoring the prior state
// on return. Drain has no built-in deadline; bound it through ctx.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	prevRunning, prevPaused := s.running, s.paused
	s.running, s.paused = true, false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running, s.paused = prevRunning, prevPaused
		s.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.reclaimStuck(ctx)

		entries, err := s.store.PickForProcessing(ctx, s.concurrency, s.clock.Now())
		if err != nil {
			return err
		}

		g := new(errgroup.Group)
		g.SetLimit(s.concurrency)
		spawned := 0
		for _, e := range entries {
			if !s.claimSlot(e) {
				continue
			}
			spawned++
			g.Go(func() error {
				defer s.releaseSlot(e)
				s.process(ctx, e)
				return nil
			})
		}
		_ = g.Wait() // process never returns an error; settle failures are logged

		// Entries claimed by the background loop may still be in flight.
		s.waitInFlight(ctx)

		if spawned > 0 {
			continue
		}

		again, err := s.store.PickForProcessing(ctx, s.concurrency, s.clock.Now())
		if err != nil {
			return err
		}
		if len(again) == 0 && s.inFlightCount() == 0 {
			return nil
		}

		// Ready entries exist but were not claimable (channel limits or a
		// racing tick). Yield briefly and try again.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
