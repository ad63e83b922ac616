// Package middleware provides composable middleware for entry delivery.
// Middleware wraps transport sends synchronously and can modify execution
// (recover from panics, enforce deadlines, log, record metrics, trace).
package middleware

import (
	"context"

	"github.com/atlet99/durable-outbox"
)

// Handler is the terminal function that performs the delivery.
type Handler func(ctx context.Context) (outbox.SendResult, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the entry being delivered, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, e *outbox.Entry, next Handler) (outbox.SendResult, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → transport.Send
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, e *outbox.Entry, next Handler) (outbox.SendResult, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (outbox.SendResult, error) {
				return mw(ctx, e, prev)
			}
		}
		return h(ctx)
	}
}
