package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/atlet99/durable-outbox"
)

// Recover returns middleware that recovers from panics in the delivery
// chain. Panics are converted to errors and logged with a stack trace,
// so a panicking transport follows the normal transient-retry path.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *outbox.Entry, next Handler) (res outbox.SendResult, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("transport panicked",
					slog.String("entry_id", e.ID),
					slog.String("channel", e.Channel),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = outbox.SendResult{}
				retErr = fmt.Errorf("panic delivering entry %s: %v", e.ID, r)
			}
		}()
		return next(ctx)
	}
}
