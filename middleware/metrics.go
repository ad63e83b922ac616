package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/atlet99/durable-outbox"
)

// meterName is the instrumentation scope name for outbox metrics.
const meterName = "github.com/atlet99/durable-outbox"

// Metrics returns middleware that records per-send metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - outbox.send.duration (Float64Histogram): delivery time in seconds,
//     with attributes: channel, status ("ok", "retry", "permanent", "error")
//   - outbox.send.attempts (Int64Counter): total send attempts,
//     with the same attributes
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"outbox.send.duration",
		metric.WithDescription("Duration of entry delivery in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	attempts, aErr := meter.Int64Counter(
		"outbox.send.attempts",
		metric.WithDescription("Total number of delivery attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = aErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, e *outbox.Entry, next Handler) (outbox.SendResult, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res.Success:
			status = "ok"
		case res.PermanentlyFailed:
			status = "permanent"
		default:
			status = "retry"
		}

		attrs := metric.WithAttributes(
			attribute.String("channel", e.Channel),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return res, err
	}
}
