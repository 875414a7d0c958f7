package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
)

// PushDLQ records a failed job.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.failed(entry.ID))
	pipe.HSet(ctx, s.keys.failed(entry.ID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.keys.failedIndex(), goredis.Z{
		Score:  float64(entry.HappenedAt.UnixMilli()),
		Member: entry.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("backlog/redis: push failed: %w", err)
	}
	return nil
}

// ListDLQ returns failed jobs oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	start, stop := int64(0), int64(-1)
	if opts.Queue == "" {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}
	ids, err := s.client.ZRange(ctx, s.keys.failedIndex(), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: list failed: %w", err)
	}

	entries, err := s.loadFailed(ctx, ids)
	if err != nil {
		return nil, err
	}
	if opts.Queue == "" {
		return entries, nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.Queue == opts.Queue {
			filtered = append(filtered, e)
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// loadFailed fetches failed job hashes in one round trip, skipping ids
// whose hash has disappeared.
func (s *Store) loadFailed(ctx context.Context, ids []string) ([]*dlq.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.failed(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("backlog/redis: load failed: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		entries = append(entries, mapToDLQ(vals))
	}
	return entries, nil
}

// GetDLQ returns a failed job by id.
func (s *Store) GetDLQ(ctx context.Context, id string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.failed(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: get failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, backlog.ErrFailedNotFound
	}
	return mapToDLQ(vals), nil
}

// ForgetDLQ deletes a failed job.
func (s *Store) ForgetDLQ(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.keys.failed(id))
	pipe.ZRem(ctx, s.keys.failedIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("backlog/redis: forget failed: %w", err)
	}
	if del.Val() == 0 {
		return backlog.ErrFailedNotFound
	}
	return nil
}

// FlushDLQ deletes every failed job.
func (s *Store) FlushDLQ(ctx context.Context) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.keys.failedIndex(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: flush failed: %w", err)
	}
	if err := s.deleteFailed(ctx, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// PurgeDLQ deletes failed jobs that happened before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.failedIndex(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: purge failed: %w", err)
	}
	if err := s.deleteFailed(ctx, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// deleteFailed removes hashes and index members in batches.
func (s *Store) deleteFailed(ctx context.Context, ids []string) error {
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		chunk := ids[start:min(start+batch, len(ids))]

		keys := make([]string, len(chunk))
		members := make([]any, len(chunk))
		for i, id := range chunk {
			keys[i] = s.keys.failed(id)
			members[i] = id
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.keys.failedIndex(), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("backlog/redis: delete failed: %w", err)
		}
	}
	return nil
}

// CountDLQ returns the number of failed jobs.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.failedIndex()).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("backlog/redis: count failed: %w", err)
	}
	return n, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	return map[string]any{
		"id":                e.ID,
		"queue":             e.Queue,
		"name":              e.Name,
		"payload":           string(e.Payload),
		"attempts":          strconv.Itoa(e.Attempts),
		"exception_class":   e.Exception.Class,
		"exception_message": e.Exception.Message,
		"exception_trace":   e.Exception.Trace,
		"happened_at":       e.HappenedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToDLQ(m map[string]string) *dlq.Entry {
	attempts, _ := strconv.Atoi(m["attempts"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	happenedAt, _ := time.Parse(time.RFC3339Nano, m["happened_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:       m["id"],
		Queue:    m["queue"],
		Name:     m["name"],
		Payload:  []byte(m["payload"]),
		Attempts: attempts,
		Exception: dlq.Exception{
			Class:   m["exception_class"],
			Message: m["exception_message"],
			Trace:   m["exception_trace"],
		},
		HappenedAt: happenedAt,
	}
}
