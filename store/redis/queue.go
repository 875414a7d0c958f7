package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog/queue"
)

// Push appends a record to the ready list.
func (s *Store) Push(ctx context.Context, name string, payload []byte) error {
	err := pushScript.Run(ctx, s.client,
		[]string{s.keys.ready(name), s.keys.notify(name)},
		payload,
	).Err()
	if err != nil {
		return fmt.Errorf("backlog/redis: push: %w", err)
	}
	return nil
}

// Later adds a record to the delayed set.
func (s *Store) Later(ctx context.Context, name string, payload []byte, at time.Time) error {
	err := s.client.ZAdd(ctx, s.keys.delayed(name), goredis.Z{
		Score:  float64(queue.Score(at)),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("backlog/redis: later: %w", err)
	}
	return nil
}

// Reserve pops and reserves the ready head.
func (s *Store) Reserve(ctx context.Context, name string, now time.Time) ([]byte, []byte, error) {
	res, err := reserveScript.Run(ctx, s.client,
		[]string{s.keys.ready(name), s.keys.reserved(name), s.keys.notify(name)},
		queue.Score(now),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("backlog/redis: reserve: %w", err)
	}

	raw := []byte(asString(res, 0))
	if len(res) < 2 {
		return nil, nil, &queue.CorruptRecordError{Queue: name, Payload: raw}
	}
	return raw, []byte(asString(res, 1)), nil
}

func asString(vals []any, i int) string {
	if i >= len(vals) {
		return ""
	}
	str, _ := vals[i].(string) //nolint:errcheck // script replies are bulk strings
	return str
}

// PromoteMatured moves matured members of a set to the ready list.
func (s *Store) PromoteMatured(ctx context.Context, set queue.Set, name string, now time.Time) (int, error) {
	from := s.keys.delayed(name)
	if set == queue.SetReserved {
		from = s.keys.reserved(name)
	}
	n, err := promoteScript.Run(ctx, s.client,
		[]string{from, s.keys.ready(name), s.keys.notify(name)},
		now.UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: promote %s: %w", set, err)
	}
	return n, nil
}

// Reschedule moves a held reservation to the delayed set.
func (s *Store) Reschedule(ctx context.Context, name string, reserved []byte, at time.Time) (bool, error) {
	n, err := rescheduleScript.Run(ctx, s.client,
		[]string{s.keys.delayed(name), s.keys.reserved(name)},
		reserved, queue.Score(at),
	).Int()
	if err != nil {
		return false, fmt.Errorf("backlog/redis: reschedule: %w", err)
	}
	return n == 1, nil
}

// DeleteReserved removes a reservation.
func (s *Store) DeleteReserved(ctx context.Context, name string, reserved []byte) error {
	if err := s.client.ZRem(ctx, s.keys.reserved(name), reserved).Err(); err != nil {
		return fmt.Errorf("backlog/redis: delete reserved: %w", err)
	}
	return nil
}

// Wait blocks on the notify list. BLPOP works in whole seconds, so the
// timeout is rounded up.
func (s *Store) Wait(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	timeout = (timeout + time.Second - 1).Truncate(time.Second)
	if timeout < time.Second {
		timeout = time.Second
	}
	err := s.client.BLPop(ctx, timeout, s.keys.notify(name)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("backlog/redis: wait: %w", err)
	}
	return true, nil
}

// RestartSignal reads the restart signal.
func (s *Store) RestartSignal(ctx context.Context) (time.Time, error) {
	v, err := s.client.Get(ctx, s.keys.restart()).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("backlog/redis: restart signal: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("backlog/redis: parse restart signal %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}

// SetRestartSignal writes the restart signal.
func (s *Store) SetRestartSignal(ctx context.Context, at time.Time) error {
	if err := s.client.Set(ctx, s.keys.restart(), at.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("backlog/redis: set restart signal: %w", err)
	}
	return nil
}

// Size counts the records of a queue.
func (s *Store) Size(ctx context.Context, name string) (queue.Stats, error) {
	pipe := s.client.Pipeline()
	ready := pipe.LLen(ctx, s.keys.ready(name))
	delayed := pipe.ZCard(ctx, s.keys.delayed(name))
	reserved := pipe.ZCard(ctx, s.keys.reserved(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Stats{}, fmt.Errorf("backlog/redis: size: %w", err)
	}
	return queue.Stats{
		Ready:    ready.Val(),
		Delayed:  delayed.Val(),
		Reserved: reserved.Val(),
	}, nil
}

// Clear deletes every record of a queue.
func (s *Store) Clear(ctx context.Context, name string) (int64, error) {
	n, err := clearScript.Run(ctx, s.client, []string{
		s.keys.ready(name), s.keys.delayed(name), s.keys.reserved(name), s.keys.notify(name),
	}).Int64()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: clear: %w", err)
	}
	return n, nil
}

// AcquireCronLock takes key for owner until ttl elapses.
func (s *Store) AcquireCronLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.cronLock(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("backlog/redis: acquire cron lock: %w", err)
	}
	return ok, nil
}
