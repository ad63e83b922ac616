package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atlet99/durable-outbox"
)

// process runs a single claimed entry through the middleware chain and
// transport, then settles it. The entry passed in is the picked copy;
// the claim is made visible by updating the store before sending.
func (s *Scheduler) process(ctx context.Context, e *outbox.Entry) {
	claimed := e.With(func(c *outbox.Entry) {
		c.Status = outbox.StatusProcessing
	})
	if err := s.store.Update(ctx, claimed); err != nil {
		s.logger.Error("claim update failed",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	res, err := s.mw(ctx, claimed, func(ctx context.Context) (outbox.SendResult, error) {
		return s.transport.Send(ctx, claimed)
	})
	elapsed := time.Since(start)

	now := s.clock.Now()
	switch {
	case err != nil:
		// Unexpected processing error: transient-retry path.
		s.settleTransient(ctx, claimed, err.Error(), nil, now)
	case res.Success:
		s.settleDone(ctx, claimed, elapsed)
	case res.PermanentlyFailed:
		s.settleFailed(ctx, claimed, res.Error)
	default:
		s.settleTransient(ctx, claimed, res.Error, res.RetryAfter, now)
	}
}

// settleDone marks the entry delivered.
func (s *Scheduler) settleDone(ctx context.Context, e *outbox.Entry, elapsed time.Duration) {
	if err := s.store.MarkDone(ctx, e.ID); err != nil {
		s.logger.Error("mark done failed",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.hooks.EmitEntryDelivered(ctx, e, elapsed)
}

// settleFailed marks the entry permanently failed. No retry.
func (s *Scheduler) settleFailed(ctx context.Context, e *outbox.Entry, errMsg string) {
	if errMsg == "" {
		errMsg = "permanent failure"
	}
	if err := s.store.MarkFailed(ctx, e.ID, errMsg, nil); err != nil {
		s.logger.Error("mark failed failed",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.hooks.EmitEntryFailed(ctx, e, errors.New(errMsg))
	s.logger.Warn("entry failed permanently",
		slog.String("entry_id", e.ID),
		slog.String("channel", e.Channel),
		slog.String("error", errMsg),
	)
}

// settleTransient reschedules the entry with the next backoff delay.
// A server-provided retryAfter clamps the computed schedule from below.
func (s *Scheduler) settleTransient(ctx context.Context, e *outbox.Entry, errMsg string, retryAfter *time.Duration, now time.Time) {
	attempt := e.Attempt + 1

	// Seed the jitter window from the previous delay when one is known,
	// bounded to the policy range so a never-retry sentinel cannot
	// poison it.
	var prev time.Duration
	if e.NextAttemptAt != nil {
		prev = e.NextAttemptAt.Sub(e.CreatedAt)
		if prev < s.policy.BaseDelay {
			prev = s.policy.BaseDelay
		}
		if prev > s.policy.MaxDelay {
			prev = s.policy.MaxDelay
		}
	}

	next := s.policy.NextAttempt(attempt, now, prev)
	if retryAfter != nil {
		if ra := now.Add(*retryAfter); ra.After(next) {
			next = ra
		}
	}

	updated := e.With(func(c *outbox.Entry) {
		c.Status = outbox.StatusQueued
		c.Attempt = attempt
		c.NextAttemptAt = &next
		c.Error = errMsg
	})
	if err := s.store.Update(ctx, updated); err != nil {
		s.logger.Error("retry update failed",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.hooks.EmitEntryRetrying(ctx, updated, attempt, next)
	s.logger.Info("entry scheduled for retry",
		slog.String("entry_id", e.ID),
		slog.String("channel", e.Channel),
		slog.Int("attempt", attempt),
		slog.Time("next_attempt_at", next),
		slog.String("error", errMsg),
	)
}
