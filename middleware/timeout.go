package middleware

import (
	"context"
	"time"

	"github.com/atlet99/durable-outbox"
)

// Timeout returns middleware that enforces a per-send deadline. When the
// deadline is exceeded the context is cancelled; transports should
// surface that as a transient result. A non-positive timeout disables
// the middleware.
func Timeout(timeout time.Duration) Middleware {
	return func(ctx context.Context, _ *outbox.Entry, next Handler) (outbox.SendResult, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
