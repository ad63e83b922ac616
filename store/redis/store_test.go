package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/atlet99/durable-outbox"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func newEntry(id, channel string, priority int, createdAt time.Time) *outbox.Entry {
	return &outbox.Entry{
		ID:        id,
		Channel:   channel,
		Payload:   json.RawMessage(`{"k":"v"}`),
		Priority:  priority,
		Status:    outbox.StatusQueued,
		CreatedAt: createdAt,
	}
}

func entryIDs(entries []*outbox.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestNotInitialized(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client)
	ctx := context.Background()

	if err := s.Insert(ctx, newEntry("a", "c", 0, time.Now())); !errors.Is(err, outbox.ErrNotInitialized) {
		t.Fatalf("Insert before Init: %v", err)
	}
	if _, err := s.PickForProcessing(ctx, 1, time.Now()); !errors.Is(err, outbox.ErrNotInitialized) {
		t.Fatalf("Pick before Init: %v", err)
	}
}

func TestInitIdempotentAndClose(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Insert(ctx, newEntry("a", "c", 0, time.Now())); !errors.Is(err, outbox.ErrClosed) {
		t.Fatalf("Insert after Close: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Millisecond)
	next := created.Add(42 * time.Second)

	e := &outbox.Entry{
		ID:             "r-1",
		Channel:        "test",
		Payload:        json.RawMessage(`{"k":"v"}`),
		Headers:        map[string]string{"X-Tenant": "acme"},
		IdempotencyKey: "idem-1",
		Priority:       4,
		Attempt:        2,
		NextAttemptAt:  &next,
		CreatedAt:      created,
		Status:         outbox.StatusQueued,
		Error:          "last transient",
	}
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != e.ID || got.Channel != e.Channel || got.Priority != e.Priority ||
		got.Attempt != e.Attempt || got.Status != e.Status || got.Error != e.Error ||
		got.IdempotencyKey != e.IdempotencyKey {
		t.Fatalf("round-tripped entry differs: %+v", got)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Fatalf("payload = %s", got.Payload)
	}
	if got.Headers["X-Tenant"] != "acme" {
		t.Fatalf("headers = %v", got.Headers)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, created)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(next) {
		t.Fatalf("next_attempt_at = %v, want %v", got.NextAttemptAt, next)
	}
}

func TestInsertUpsert(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newEntry("a", "orders", 0, now)
	first.Error = "stale"
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, newEntry("a", "orders", 9, now)); err != nil {
		t.Fatalf("re-Insert: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Priority != 9 {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Queued != 1 {
		t.Fatalf("store grew on upsert: %+v", counts)
	}
}

func TestUpdateAbsentIsNoop(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, newEntry("ghost", "c", 0, time.Now().UTC())); err != nil {
		t.Fatalf("Update absent: %v", err)
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Fatalf("Update absent must not create: %v", err)
	}
}

func TestUpdateClearsDroppedFields(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("a", "c", 0, now)
	e.Error = "transient"
	next := now.Add(time.Minute)
	e.NextAttemptAt = &next
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cleared := newEntry("a", "c", 0, now)
	if err := s.Update(ctx, cleared); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Error != "" || got.NextAttemptAt != nil {
		t.Fatalf("cleared fields survived the rewrite: %+v", got)
	}
}

func TestPickOrderingAndSchedule(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	low := newEntry("low", "c", 0, base)
	high := newEntry("high", "c", 10, base.Add(time.Second))
	negative := newEntry("negative", "c", -5, base)
	future := newEntry("future", "c", 20, base)
	notBefore := base.Add(5 * time.Minute)
	future.NextAttemptAt = &notBefore

	for _, e := range []*outbox.Entry{low, high, negative, future} {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert %s: %v", e.ID, err)
		}
	}

	// The scheduled entry is walked first (highest priority) but skipped
	// as ineligible; the rest come back in score order.
	got, err := s.PickForProcessing(ctx, 10, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(got) != 3 || got[0].ID != "high" || got[1].ID != "low" || got[2].ID != "negative" {
		t.Fatalf("pick = %v", entryIDs(got))
	}

	got, err = s.PickForProcessing(ctx, 10, base.Add(5*time.Minute+time.Second))
	if err != nil {
		t.Fatalf("Pick late: %v", err)
	}
	if len(got) != 4 || got[0].ID != "future" {
		t.Fatalf("pick late = %v", entryIDs(got))
	}

	got, err = s.PickForProcessing(ctx, 2, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Pick limited: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pick limit = %d entries", len(got))
	}
}

func TestPickFIFOWithinPriority(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.Insert(ctx, newEntry("second", "c", 0, base.Add(time.Second))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, newEntry("first", "c", 0, base)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.PickForProcessing(ctx, 10, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(got) != 2 || got[0].ID != "first" || got[1].ID != "second" {
		t.Fatalf("pick = %v, want FIFO within the priority band", entryIDs(got))
	}
}

func TestPickSkipsSettledEntries(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"done", "failed", "claimed", "open"} {
		if err := s.Insert(ctx, newEntry(id, "c", 0, now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := s.MarkDone(ctx, "done"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s.MarkFailed(ctx, "failed", "boom", nil); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	claimed := newEntry("claimed", "c", 0, now)
	claimed.Status = outbox.StatusProcessing
	if err := s.Update(ctx, claimed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.PickForProcessing(ctx, 10, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(got) != 1 || got[0].ID != "open" {
		t.Fatalf("settled entries still picked: %v", entryIDs(got))
	}
}

func TestMarkDoneAndFailed(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"done", "perm", "retry"} {
		e := newEntry(id, "c", 0, now)
		e.Error = "stale"
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := s.MarkDone(ctx, "done"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	got, err := s.Get(ctx, "done")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusDone || got.Error != "" {
		t.Fatalf("MarkDone result: %+v", got)
	}

	if err := s.MarkFailed(ctx, "perm", "boom", nil); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err = s.Get(ctx, "perm")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusFailed || got.Error != "boom" {
		t.Fatalf("permanent MarkFailed result: %+v", got)
	}

	next := now.Add(time.Minute).Truncate(time.Millisecond)
	if err := s.MarkFailed(ctx, "retry", "again", &next); err != nil {
		t.Fatalf("MarkFailed with schedule: %v", err)
	}
	got, err = s.Get(ctx, "retry")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusQueued || got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(next) {
		t.Fatalf("MarkFailed with schedule result: %+v", got)
	}

	if err := s.MarkDone(ctx, "ghost"); !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Fatalf("MarkDone absent: %v", err)
	}
	if err := s.MarkFailed(ctx, "ghost", "x", nil); !errors.Is(err, outbox.ErrEntryNotFound) {
		t.Fatalf("MarkFailed absent: %v", err)
	}
}

func TestReclaimStuck(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stuck := newEntry("stuck", "c", 0, now)
	stuck.Status = outbox.StatusProcessing
	stuck.Attempt = 1
	if err := s.Insert(ctx, stuck); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.ReclaimStuck(ctx, 5*time.Minute, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStuck: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}

	got, err := s.Get(ctx, "stuck")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusQueued || got.Attempt != 2 || got.Error != "lock timeout" || got.NextAttemptAt != nil {
		t.Fatalf("reclaimed entry: %+v", got)
	}

	// The reclaimed entry is back in the ready index.
	picked, err := s.PickForProcessing(ctx, 10, now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(picked) != 1 || picked[0].ID != "stuck" {
		t.Fatalf("reclaimed entry not pickable: %v", entryIDs(picked))
	}

	n, err = s.ReclaimStuck(ctx, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("ReclaimStuck again: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d queued entries, want 0", n)
	}
}

func TestClearAndCounts(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for id, ch := range map[string]string{"a": "orders", "b": "orders", "c": "mail"} {
		if err := s.Insert(ctx, newEntry(id, ch, 0, now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := s.MarkFailed(ctx, "c", "x", nil); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Queued != 2 || counts.Failed != 1 {
		t.Fatalf("Counts = %+v", counts)
	}

	if err := s.Clear(ctx, "orders"); err != nil {
		t.Fatalf("Clear(orders): %v", err)
	}
	counts, err = s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Queued != 0 || counts.Failed != 1 {
		t.Fatalf("Counts after channel clear = %+v", counts)
	}

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear(): %v", err)
	}
	counts, err = s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts != (outbox.StatusCounts{}) {
		t.Fatalf("Counts after full clear = %+v", counts)
	}

	picked, err := s.PickForProcessing(ctx, 10, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Pick after clear: %v", err)
	}
	if len(picked) != 0 {
		t.Fatalf("ready index survived clear: %v", entryIDs(picked))
	}
}

func TestListFailed(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"old", "new"} {
		e := newEntry(id, "orders", 0, base.Add(time.Duration(i)*time.Second))
		e.Status = outbox.StatusFailed
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	other := newEntry("other", "mail", 0, base)
	other.Status = outbox.StatusFailed
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.ListFailed(ctx, "orders", 0)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("ListFailed = %v", entryIDs(got))
	}

	got, err = s.ListFailed(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListFailed limit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListFailed limit = %d entries", len(got))
	}
}

func TestWatchCount(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchCount(ctx, "")
	if err != nil {
		t.Fatalf("WatchCount: %v", err)
	}

	recv := func() int {
		select {
		case v := <-ch:
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for count")
			return 0
		}
	}

	if v := recv(); v != 0 {
		t.Fatalf("initial count = %d", v)
	}
	if err := s.Insert(ctx, newEntry("a", "c", 0, time.Now().UTC())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v := recv(); v != 1 {
		t.Fatalf("count after insert = %d, want 1", v)
	}
	if err := s.MarkDone(ctx, "a"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if v := recv(); v != 0 {
		t.Fatalf("count after done = %d, want 0", v)
	}
}
