package engine

import (
	"context"
	"log/slog"

	"github.com/atlet99/durable-outbox"
)

// Watch returns a stream of outbox states, derived by composing the
// store's count stream with the scheduler's live flags. The first state
// is emitted immediately; subsequent states follow store mutations and
// consecutive duplicates are suppressed. The stream closes when ctx is
// done.
func (o *Outbox) Watch(ctx context.Context) (<-chan outbox.State, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}

	counts, err := o.store.WatchCount(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make(chan outbox.State, 1)
	go func() {
		defer close(out)

		var last outbox.State
		emitted := false
		for range counts {
			state, stateErr := o.snapshot(ctx)
			if stateErr != nil {
				o.logger.Warn("watch snapshot failed", slog.String("error", stateErr.Error()))
				continue
			}
			if emitted && state == last {
				continue
			}
			last, emitted = state, true

			select {
			case out <- state:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// snapshot builds the current state from store counts and scheduler
// flags.
func (o *Outbox) snapshot(ctx context.Context) (outbox.State, error) {
	counts, err := o.store.Counts(ctx)
	if err != nil {
		return outbox.State{}, err
	}
	return outbox.State{
		IsPaused:        o.sched.IsPaused(),
		IsRunning:       o.sched.IsRunning(),
		QueuedCount:     counts.Queued,
		ProcessingCount: counts.Processing,
		FailedCount:     counts.Failed,
	}, nil
}
