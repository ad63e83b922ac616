// Package observability provides an extension that records outbox
// lifecycle counters via OpenTelemetry. engine.New registers one by
// default; it tracks enqueue rates, deliveries, retries, permanent
// failures, replays, and watchdog reclaims.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/atlet99/durable-outbox"
	"github.com/atlet99/durable-outbox/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.EntryEnqueued  = (*MetricsExtension)(nil)
	_ ext.EntryDelivered = (*MetricsExtension)(nil)
	_ ext.EntryRetrying  = (*MetricsExtension)(nil)
	_ ext.EntryFailed    = (*MetricsExtension)(nil)
	_ ext.EntryReplayed  = (*MetricsExtension)(nil)
	_ ext.EntryReclaimed = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for outbox observability.
const meterName = "github.com/atlet99/durable-outbox/observability"

// MetricsExtension records system-wide lifecycle counters. With no
// global MeterProvider installed the instruments are noops.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	delivered metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	replayed  metric.Int64Counter
	reclaimed metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use it to inject a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so errors are
	// deliberately discarded.
	m.enqueued, _ = meter.Int64Counter("outbox.entry.enqueued",
		metric.WithDescription("Entries accepted into the outbox"))
	m.delivered, _ = meter.Int64Counter("outbox.entry.delivered",
		metric.WithDescription("Entries delivered successfully"))
	m.retried, _ = meter.Int64Counter("outbox.entry.retried",
		metric.WithDescription("Transient failures scheduled for retry"))
	m.failed, _ = meter.Int64Counter("outbox.entry.failed",
		metric.WithDescription("Entries failed permanently"))
	m.replayed, _ = meter.Int64Counter("outbox.entry.replayed",
		metric.WithDescription("Failed entries reset for redelivery"))
	m.reclaimed, _ = meter.Int64Counter("outbox.entry.reclaimed",
		metric.WithDescription("Stuck processing entries returned to the queue"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnEntryEnqueued implements ext.EntryEnqueued.
func (m *MetricsExtension) OnEntryEnqueued(ctx context.Context, _ *outbox.Entry) error {
	m.enqueued.Add(ctx, 1)
	return nil
}

// OnEntryDelivered implements ext.EntryDelivered.
func (m *MetricsExtension) OnEntryDelivered(ctx context.Context, _ *outbox.Entry, _ time.Duration) error {
	m.delivered.Add(ctx, 1)
	return nil
}

// OnEntryRetrying implements ext.EntryRetrying.
func (m *MetricsExtension) OnEntryRetrying(ctx context.Context, _ *outbox.Entry, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1)
	return nil
}

// OnEntryFailed implements ext.EntryFailed.
func (m *MetricsExtension) OnEntryFailed(ctx context.Context, _ *outbox.Entry, _ error) error {
	m.failed.Add(ctx, 1)
	return nil
}

// OnEntryReplayed implements ext.EntryReplayed.
func (m *MetricsExtension) OnEntryReplayed(ctx context.Context, _ *outbox.Entry) error {
	m.replayed.Add(ctx, 1)
	return nil
}

// OnEntryReclaimed implements ext.EntryReclaimed.
func (m *MetricsExtension) OnEntryReclaimed(ctx context.Context, count int) error {
	m.reclaimed.Add(ctx, int64(count))
	return nil
}
