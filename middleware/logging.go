package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlet99/durable-outbox"
)

// Logging returns middleware that logs send start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *outbox.Entry, next Handler) (outbox.SendResult, error) {
		logger.Debug("send started",
			slog.String("entry_id", e.ID),
			slog.String("channel", e.Channel),
			slog.Int("attempt", e.Attempt),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			logger.Error("send errored",
				slog.String("entry_id", e.ID),
				slog.String("channel", e.Channel),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case res.Success:
			logger.Info("send completed",
				slog.String("entry_id", e.ID),
				slog.String("channel", e.Channel),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Warn("send failed",
				slog.String("entry_id", e.ID),
				slog.String("channel", e.Channel),
				slog.Duration("elapsed", elapsed),
				slog.Bool("permanent", res.PermanentlyFailed),
				slog.String("error", res.Error),
			)
		}

		return res, err
	}
}
