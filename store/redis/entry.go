package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/atlet99/durable-outbox"
)

// pickPageSize bounds how many ready-index members are loaded per
// ZRange round trip while picking.
const pickPageSize = 128

// entryScore computes a ready-index score from priority and created_at.
// Lower score = picked first: priority is negated so higher priority
// sorts first, and a fractional time component keeps FIFO within the
// same priority band.
func entryScore(priority int, createdAt time.Time) float64 {
	return float64(-priority) + float64(createdAt.UnixMilli())/1e15
}

// indexEntry queues the ready-index update matching the entry's status
// on the pipeline: queued entries are scored in, everything else is
// scored out.
func indexEntry(ctx context.Context, pipe goredis.Pipeliner, e *outbox.Entry) {
	if e.Status == outbox.StatusQueued {
		pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: entryScore(e.Priority, e.CreatedAt), Member: e.ID})
		return
	}
	pipe.ZRem(ctx, queuedKey, e.ID)
}

// Insert upserts an entry by ID and signals count watchers.
func (s *Store) Insert(ctx context.Context, e *outbox.Entry) error {
	if err := s.ready(); err != nil {
		return err
	}

	fields, err := entryToMap(e, s.clock.Now())
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(e.ID))
	pipe.HSet(ctx, entryKey(e.ID), fields)
	pipe.SAdd(ctx, entryIDsKey, e.ID)
	indexEntry(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outbox/redis: insert entry: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// Update replaces an entry by ID. No-op if the ID is absent.
func (s *Store) Update(ctx context.Context, e *outbox.Entry) error {
	if err := s.ready(); err != nil {
		return err
	}

	exists, err := s.client.Exists(ctx, entryKey(e.ID)).Result()
	if err != nil {
		return fmt.Errorf("outbox/redis: update exists: %w", err)
	}
	if exists == 0 {
		return nil
	}

	fields, err := entryToMap(e, s.clock.Now())
	if err != nil {
		return err
	}
	// Replace, not merge: delete and rewrite in one transaction so
	// cleared optional fields do not survive.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(e.ID))
	pipe.HSet(ctx, entryKey(e.ID), fields)
	pipe.SAdd(ctx, entryIDsKey, e.ID)
	indexEntry(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outbox/redis: update entry: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*outbox.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.getByKey(ctx, entryKey(id))
}

// MarkDone transitions the entry to done and clears its error.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	key := entryKey(id)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("outbox/redis: mark done exists: %w", err)
	}
	if exists == 0 {
		return outbox.ErrEntryNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(outbox.StatusDone),
		"updated_at", strconv.FormatInt(s.clock.Now().UnixMilli(), 10),
	)
	pipe.HDel(ctx, key, "error")
	pipe.ZRem(ctx, queuedKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outbox/redis: mark done: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// MarkFailed requeues the entry with the given schedule, or marks it
// terminally failed when nextAttempt is nil.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, nextAttempt *time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	// The ready-index score needs priority and created_at, so load the
	// entry rather than blind-writing fields.
	e, err := s.getByKey(ctx, entryKey(id))
	if err != nil {
		return err
	}

	fields := map[string]any{
		"error":      errMsg,
		"updated_at": strconv.FormatInt(s.clock.Now().UnixMilli(), 10),
	}
	pipe := s.client.TxPipeline()
	if nextAttempt != nil {
		fields["status"] = string(outbox.StatusQueued)
		fields["next_attempt_at"] = strconv.FormatInt(nextAttempt.UnixMilli(), 10)
		pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: entryScore(e.Priority, e.CreatedAt), Member: id})
	} else {
		fields["status"] = string(outbox.StatusFailed)
		pipe.ZRem(ctx, queuedKey, id)
	}
	pipe.HSet(ctx, entryKey(id), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outbox/redis: mark failed: %w", err)
	}

	s.notifyCounts(ctx)
	return nil
}

// PickForProcessing walks the ready index in score order (priority
// descending, created_at ascending) and returns up to limit entries
// eligible at now. Read-only: entries stay in the index until a status
// change removes them.
func (s *Store) PickForProcessing(ctx context.Context, limit int, now time.Time) ([]*outbox.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var picked []*outbox.Entry
	for start := int64(0); ; start += pickPageSize {
		ids, err := s.client.ZRange(ctx, queuedKey, start, start+pickPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("outbox/redis: pick zrange: %w", err)
		}
		if len(ids) == 0 {
			return picked, nil
		}

		for _, id := range ids {
			e, getErr := s.getByKey(ctx, entryKey(id))
			if getErr != nil {
				if errors.Is(getErr, outbox.ErrEntryNotFound) {
					continue // index member deleted mid-walk
				}
				return nil, getErr
			}
			if !e.Eligible(now) {
				continue
			}
			picked = append(picked, e)
			if len(picked) >= limit {
				return picked, nil
			}
		}
	}
}

// ListFailed returns permanently failed entries, newest first.
func (s *Store) ListFailed(ctx context.Context, channel string, limit int) ([]*outbox.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	all, err := s.scanEntries(ctx)
	if err != nil {
		return nil, err
	}

	failed := all[:0]
	for _, e := range all {
		if e.Status != outbox.StatusFailed {
			continue
		}
		if channel != "" && e.Channel != channel {
			continue
		}
		failed = append(failed, e)
	}

	sort.Slice(failed, func(i, k int) bool {
		return failed[i].CreatedAt.After(failed[k].CreatedAt)
	})

	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// ReclaimStuck forces processing entries untouched for olderThan back to
// queued with attempt incremented and error "lock timeout".
func (s *Store) ReclaimStuck(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	all, err := s.scanEntries(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-olderThan)
	reclaimed := 0
	for _, e := range all {
		if e.Status != outbox.StatusProcessing || e.UpdatedAt.After(cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entryKey(e.ID),
			"status", string(outbox.StatusQueued),
			"attempt", strconv.Itoa(e.Attempt+1),
			"error", "lock timeout",
			"updated_at", strconv.FormatInt(now.UnixMilli(), 10),
		)
		pipe.HDel(ctx, entryKey(e.ID), "next_attempt_at")
		pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: entryScore(e.Priority, e.CreatedAt), Member: e.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("outbox/redis: reclaim stuck: %w", err)
		}
		reclaimed++
	}

	if reclaimed > 0 {
		s.notifyCounts(ctx)
	}
	return reclaimed, nil
}

// Clear deletes all entries, or only those of the given channel.
func (s *Store) Clear(ctx context.Context, channel string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if channel == "" {
		ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
		if err != nil {
			return fmt.Errorf("outbox/redis: clear smembers: %w", err)
		}
		pipe := s.client.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, entryKey(id))
		}
		pipe.Del(ctx, entryIDsKey)
		pipe.Del(ctx, queuedKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("outbox/redis: clear: %w", err)
		}
		s.notifyCounts(ctx)
		return nil
	}

	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return fmt.Errorf("outbox/redis: clear smembers: %w", err)
	}
	for _, id := range ids {
		ch, getErr := s.client.HGet(ctx, entryKey(id), "channel").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return fmt.Errorf("outbox/redis: clear get channel: %w", getErr)
		}
		if ch != channel {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, entryKey(id))
		pipe.SRem(ctx, entryIDsKey, id)
		pipe.ZRem(ctx, queuedKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("outbox/redis: clear delete: %w", err)
		}
	}

	s.notifyCounts(ctx)
	return nil
}

// Counts tallies entries per status.
func (s *Store) Counts(ctx context.Context) (outbox.StatusCounts, error) {
	if err := s.ready(); err != nil {
		return outbox.StatusCounts{}, err
	}

	all, err := s.scanEntries(ctx)
	if err != nil {
		return outbox.StatusCounts{}, err
	}

	var c outbox.StatusCounts
	for _, e := range all {
		switch e.Status {
		case outbox.StatusQueued:
			c.Queued++
		case outbox.StatusProcessing:
			c.Processing++
		case outbox.StatusDone:
			c.Done++
		case outbox.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// WatchCount streams pending-entry counts for the channel filter.
func (s *Store) WatchCount(ctx context.Context, channel string) (<-chan int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notifier.Subscribe(ctx, channel, s.pendingCount(ctx, channel)), nil
}

// pendingCount counts queued and processing entries for the filter.
// Errors degrade to zero; the next mutation re-publishes a fresh value.
func (s *Store) pendingCount(ctx context.Context, channel string) int {
	all, err := s.scanEntries(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range all {
		if e.Status.Terminal() {
			continue
		}
		if channel != "" && e.Channel != channel {
			continue
		}
		n++
	}
	return n
}

// notifyCounts pushes fresh counts to all watchers.
func (s *Store) notifyCounts(ctx context.Context) {
	s.notifier.Notify(func(channel string) int {
		return s.pendingCount(ctx, channel)
	})
}

// scanEntries loads every entry, for list/count paths (the same
// enumeration shape the hash+set layout always needs for status
// filters). Entries deleted mid-scan are skipped. Picking does not go
// through here; it walks the ready index.
func (s *Store) scanEntries(ctx context.Context) ([]*outbox.Entry, error) {
	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("outbox/redis: scan smembers: %w", err)
	}

	entries := make([]*outbox.Entry, 0, len(ids))
	for _, id := range ids {
		e, getErr := s.getByKey(ctx, entryKey(id))
		if getErr != nil {
			if errors.Is(getErr, outbox.ErrEntryNotFound) {
				continue
			}
			return nil, getErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) getByKey(ctx context.Context, key string) (*outbox.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("outbox/redis: get entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, outbox.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

// entryToMap flattens an entry into Redis hash fields. Optional fields
// are omitted entirely rather than stored empty.
func entryToMap(e *outbox.Entry, updatedAt time.Time) (map[string]any, error) {
	m := map[string]any{
		"id":         e.ID,
		"channel":    e.Channel,
		"payload":    string(e.Payload),
		"priority":   strconv.Itoa(e.Priority),
		"attempt":    strconv.Itoa(e.Attempt),
		"created_at": strconv.FormatInt(e.CreatedAt.UnixMilli(), 10),
		"updated_at": strconv.FormatInt(updatedAt.UnixMilli(), 10),
		"status":     string(e.Status),
	}
	if len(e.Headers) > 0 {
		data, err := json.Marshal(e.Headers)
		if err != nil {
			return nil, fmt.Errorf("outbox/redis: encode headers for %s: %w", e.ID, err)
		}
		m["headers"] = string(data)
	}
	if e.IdempotencyKey != "" {
		m["idempotency_key"] = e.IdempotencyKey
	}
	if e.NextAttemptAt != nil {
		m["next_attempt_at"] = strconv.FormatInt(e.NextAttemptAt.UnixMilli(), 10)
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m, nil
}

func mapToEntry(m map[string]string) (*outbox.Entry, error) {
	priority, _ := strconv.Atoi(m["priority"])                //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                  //nolint:errcheck // best-effort parse from trusted Redis data
	createdMs, _ := strconv.ParseInt(m["created_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedMs, _ := strconv.ParseInt(m["updated_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &outbox.Entry{
		ID:             m["id"],
		Channel:        m["channel"],
		Payload:        json.RawMessage(m["payload"]),
		IdempotencyKey: m["idempotency_key"],
		Priority:       priority,
		Attempt:        attempt,
		CreatedAt:      time.UnixMilli(createdMs).UTC(),
		UpdatedAt:      time.UnixMilli(updatedMs).UTC(),
		Status:         outbox.Status(m["status"]),
		Error:          m["error"],
	}

	if v := m["next_attempt_at"]; v != "" {
		ms, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("outbox/redis: parse next_attempt_at for %s: %w", e.ID, parseErr)
		}
		t := time.UnixMilli(ms).UTC()
		e.NextAttemptAt = &t
	}
	if v := m["headers"]; v != "" {
		if err := json.Unmarshal([]byte(v), &e.Headers); err != nil {
			return nil, fmt.Errorf("outbox/redis: decode headers for %s: %w", e.ID, err)
		}
	}

	return e, nil
}
