package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlet99/durable-outbox"
)

// tracerName is the instrumentation scope name for outbox tracing.
const tracerName = "github.com/atlet99/durable-outbox"

// Tracing returns middleware that wraps entry delivery in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: outbox.entry.id, outbox.channel,
// outbox.attempt, outbox.priority. On error or a non-success result the
// span status is set to codes.Error.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *outbox.Entry, next Handler) (outbox.SendResult, error) {
		ctx, span := tracer.Start(ctx, "outbox.send",
			trace.WithAttributes(
				attribute.String("outbox.entry.id", e.ID),
				attribute.String("outbox.channel", e.Channel),
				attribute.Int("outbox.attempt", e.Attempt),
				attribute.Int("outbox.priority", e.Priority),
			),
			trace.WithSpanKind(trace.SpanKindProducer),
		)
		defer span.End()

		res, err := next(ctx)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Success:
			span.SetStatus(codes.Ok, "")
		default:
			span.SetStatus(codes.Error, res.Error)
		}

		return res, err
	}
}
