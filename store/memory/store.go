// Package memory implements the backlog stores in process memory. Every
// operation holds a single mutex, which makes the queue operations
// atomic in the same way the Redis scripts are. Intended for tests,
// development and single-process deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/queue"
)

// Compile-time interface checks.
var (
	_ queue.Store = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
	_ cron.Locker = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source for lock expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory queue, failure and lock store. Safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	queues  map[string]*queueState
	restart time.Time
	failed  map[string]*dlq.Entry
	locks   map[string]lockState
	now     func() time.Time
}

type queueState struct {
	ready    [][]byte
	delayed  map[string]int64
	reserved map[string]int64
	notify   int
	wake     chan struct{}
}

type lockState struct {
	owner string
	until time.Time
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		queues: make(map[string]*queueState),
		failed: make(map[string]*dlq.Entry),
		locks:  make(map[string]lockState),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// queue returns the state of a queue, creating it. Callers hold s.mu.
func (s *Store) queue(name string) *queueState {
	q, ok := s.queues[name]
	if !ok {
		q = &queueState{
			delayed:  make(map[string]int64),
			reserved: make(map[string]int64),
			wake:     make(chan struct{}),
		}
		s.queues[name] = q
	}
	return q
}

// addTokens adds notify tokens and wakes every waiter.
func (q *queueState) addTokens(n int) {
	if n <= 0 {
		return
	}
	q.notify += n
	close(q.wake)
	q.wake = make(chan struct{})
}

// ──────────────────────────────────────────────────
// Queue store
// ──────────────────────────────────────────────────

// Push appends a record to the ready list.
func (s *Store) Push(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	q.ready = append(q.ready, clone(payload))
	q.addTokens(1)
	return nil
}

// Later adds a record to the delayed set.
func (s *Store) Later(_ context.Context, name string, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue(name).delayed[string(payload)] = queue.Score(at)
	return nil
}

// Reserve pops the ready head, bumps its attempts and reserves it.
func (s *Store) Reserve(_ context.Context, name string, now time.Time) ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	if len(q.ready) == 0 {
		return nil, nil, nil
	}
	raw := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]

	reserved, timeout, err := bumpAttempts(raw)
	if err != nil {
		return nil, nil, &queue.CorruptRecordError{Queue: name, Payload: raw, Err: err}
	}

	q.reserved[string(reserved)] = queue.Score(now) + timeout*1000
	if q.notify > 0 {
		q.notify--
	}
	return raw, reserved, nil
}

// bumpAttempts increments the attempts field of a wire record, leaving
// every other field as it is.
func bumpAttempts(raw []byte) ([]byte, int64, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, 0, err
	}
	var attempts, timeout int64
	if v, ok := fields["attempts"]; ok {
		if err := json.Unmarshal(v, &attempts); err != nil {
			return nil, 0, fmt.Errorf("attempts: %w", err)
		}
	}
	if v, ok := fields["runningTimeoutSec"]; ok {
		if err := json.Unmarshal(v, &timeout); err != nil {
			return nil, 0, fmt.Errorf("runningTimeoutSec: %w", err)
		}
	}
	fields["attempts"] = json.RawMessage(fmt.Sprint(attempts + 1))

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, 0, err
	}
	return out, timeout, nil
}

// PromoteMatured moves matured members of a set to the ready list.
func (s *Store) PromoteMatured(_ context.Context, set queue.Set, name string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	src := q.delayed
	if set == queue.SetReserved {
		src = q.reserved
	}

	cutoff := now.UnixMilli()
	matured := make([]string, 0)
	for member, score := range src {
		if score <= cutoff {
			matured = append(matured, member)
		}
	}
	sortByScore(matured, src)

	for _, member := range matured {
		delete(src, member)
		q.ready = append(q.ready, []byte(member))
	}
	q.addTokens(len(matured))
	return len(matured), nil
}

// sortByScore orders members by score, then by member, as Redis does.
func sortByScore(members []string, scores map[string]int64) {
	sort.Slice(members, func(i, k int) bool {
		si, sk := scores[members[i]], scores[members[k]]
		if si != sk {
			return si < sk
		}
		return members[i] < members[k]
	})
}

// Reschedule moves a reservation to the delayed set if it is still held.
func (s *Store) Reschedule(_ context.Context, name string, reserved []byte, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	key := string(reserved)
	if _, ok := q.reserved[key]; !ok {
		return false, nil
	}
	delete(q.reserved, key)
	q.delayed[key] = queue.Score(at)
	return true, nil
}

// DeleteReserved removes a reservation.
func (s *Store) DeleteReserved(_ context.Context, name string, reserved []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue(name).reserved, string(reserved))
	return nil
}

// Wait blocks until a notify token can be popped.
func (s *Store) Wait(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		q := s.queue(name)
		if q.notify > 0 {
			q.notify--
			s.mu.Unlock()
			return true, nil
		}
		wake := q.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// RestartSignal returns the last restart signal.
func (s *Store) RestartSignal(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart, nil
}

// SetRestartSignal stores a restart signal at millisecond precision.
func (s *Store) SetRestartSignal(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restart = time.UnixMilli(at.UnixMilli())
	return nil
}

// Size counts the records of a queue.
func (s *Store) Size(_ context.Context, name string) (queue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	return queue.Stats{
		Ready:    int64(len(q.ready)),
		Delayed:  int64(len(q.delayed)),
		Reserved: int64(len(q.reserved)),
	}, nil
}

// Clear deletes every record of a queue.
func (s *Store) Clear(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	n := int64(len(q.ready) + len(q.delayed) + len(q.reserved))
	q.ready = nil
	q.delayed = make(map[string]int64)
	q.reserved = make(map[string]int64)
	q.notify = 0
	return n, nil
}

// Members returns a copy of the ready list and of the delayed and
// reserved sets in score order. Used by tests to inspect state.
func (s *Store) Members(name string) (ready, delayed, reserved [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(name)
	for _, r := range q.ready {
		ready = append(ready, clone(r))
	}
	return ready, setMembers(q.delayed), setMembers(q.reserved)
}

func setMembers(set map[string]int64) [][]byte {
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sortByScore(members, set)
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out
}

// ──────────────────────────────────────────────────
// Failure store
// ──────────────────────────────────────────────────

// PushDLQ records a failed job.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.Payload = clone(entry.Payload)
	s.failed[entry.ID] = &cp
	return nil
}

// ListDLQ returns failed jobs oldest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*dlq.Entry, 0, len(s.failed))
	for _, e := range s.failed {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].HappenedAt.Equal(result[k].HappenedAt) {
			return result[i].HappenedAt.Before(result[k].HappenedAt)
		}
		return result[i].ID < result[k].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetDLQ returns a failed job by id.
func (s *Store) GetDLQ(_ context.Context, id string) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.failed[id]
	if !ok {
		return nil, backlog.ErrFailedNotFound
	}
	cp := *e
	return &cp, nil
}

// ForgetDLQ deletes a failed job.
func (s *Store) ForgetDLQ(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failed[id]; !ok {
		return backlog.ErrFailedNotFound
	}
	delete(s.failed, id)
	return nil
}

// FlushDLQ deletes every failed job.
func (s *Store) FlushDLQ(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.failed))
	s.failed = make(map[string]*dlq.Entry)
	return n, nil
}

// PurgeDLQ deletes failed jobs that happened before the given time.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, e := range s.failed {
		if e.HappenedAt.Before(before) {
			delete(s.failed, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of failed jobs.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.failed)), nil
}

// ──────────────────────────────────────────────────
// Cron lock
// ──────────────────────────────────────────────────

// AcquireCronLock takes key for owner until ttl elapses.
func (s *Store) AcquireCronLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.locks[key]; ok && now.Before(l.until) {
		return false, nil
	}
	s.locks[key] = lockState{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
