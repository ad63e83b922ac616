package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlet99/durable-outbox"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type entryEnqueuedEntry struct {
	name string
	hook EntryEnqueued
}

type entryDeliveredEntry struct {
	name string
	hook EntryDelivered
}

type entryRetryingEntry struct {
	name string
	hook EntryRetrying
}

type entryFailedEntry struct {
	name string
	hook EntryFailed
}

type entryReplayedEntry struct {
	name string
	hook EntryReplayed
}

type entryReclaimedEntry struct {
	name string
	hook EntryReclaimed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	entryEnqueued  []entryEnqueuedEntry
	entryDelivered []entryDeliveredEntry
	entryRetrying  []entryRetryingEntry
	entryFailed    []entryFailedEntry
	entryReplayed  []entryReplayedEntry
	entryReclaimed []entryReclaimedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(EntryEnqueued); ok {
		r.entryEnqueued = append(r.entryEnqueued, entryEnqueuedEntry{name, h})
	}
	if h, ok := e.(EntryDelivered); ok {
		r.entryDelivered = append(r.entryDelivered, entryDeliveredEntry{name, h})
	}
	if h, ok := e.(EntryRetrying); ok {
		r.entryRetrying = append(r.entryRetrying, entryRetryingEntry{name, h})
	}
	if h, ok := e.(EntryFailed); ok {
		r.entryFailed = append(r.entryFailed, entryFailedEntry{name, h})
	}
	if h, ok := e.(EntryReplayed); ok {
		r.entryReplayed = append(r.entryReplayed, entryReplayedEntry{name, h})
	}
	if h, ok := e.(EntryReclaimed); ok {
		r.entryReclaimed = append(r.entryReclaimed, entryReclaimedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitEntryEnqueued notifies all extensions that implement EntryEnqueued.
func (r *Registry) EmitEntryEnqueued(ctx context.Context, e *outbox.Entry) {
	for _, x := range r.entryEnqueued {
		if err := x.hook.OnEntryEnqueued(ctx, e); err != nil {
			r.logHookError("OnEntryEnqueued", x.name, err)
		}
	}
}

// EmitEntryDelivered notifies all extensions that implement EntryDelivered.
func (r *Registry) EmitEntryDelivered(ctx context.Context, e *outbox.Entry, elapsed time.Duration) {
	for _, x := range r.entryDelivered {
		if err := x.hook.OnEntryDelivered(ctx, e, elapsed); err != nil {
			r.logHookError("OnEntryDelivered", x.name, err)
		}
	}
}

// EmitEntryRetrying notifies all extensions that implement EntryRetrying.
func (r *Registry) EmitEntryRetrying(ctx context.Context, e *outbox.Entry, attempt int, nextAttemptAt time.Time) {
	for _, x := range r.entryRetrying {
		if err := x.hook.OnEntryRetrying(ctx, e, attempt, nextAttemptAt); err != nil {
			r.logHookError("OnEntryRetrying", x.name, err)
		}
	}
}

// EmitEntryFailed notifies all extensions that implement EntryFailed.
func (r *Registry) EmitEntryFailed(ctx context.Context, e *outbox.Entry, entryErr error) {
	for _, x := range r.entryFailed {
		if err := x.hook.OnEntryFailed(ctx, e, entryErr); err != nil {
			r.logHookError("OnEntryFailed", x.name, err)
		}
	}
}

// EmitEntryReplayed notifies all extensions that implement EntryReplayed.
func (r *Registry) EmitEntryReplayed(ctx context.Context, e *outbox.Entry) {
	for _, x := range r.entryReplayed {
		if err := x.hook.OnEntryReplayed(ctx, e); err != nil {
			r.logHookError("OnEntryReplayed", x.name, err)
		}
	}
}

// EmitEntryReclaimed notifies all extensions that implement EntryReclaimed.
func (r *Registry) EmitEntryReclaimed(ctx context.Context, count int) {
	for _, x := range r.entryReclaimed {
		if err := x.hook.OnEntryReclaimed(ctx, count); err != nil {
			r.logHookError("OnEntryReclaimed", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never interrupt delivery.
func (r *Registry) logHookError(hook, extension string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
