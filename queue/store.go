package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/backlog"
)

// Set names one of the two ordered collections kept per queue.
type Set string

const (
	// SetDelayed holds jobs waiting for their first eligibility or for a
	// retry, scored by maturity time.
	SetDelayed Set = "delayed"

	// SetReserved holds checked out jobs, scored by reservation deadline.
	SetReserved Set = "reserved"
)

// Stats counts the records of one queue.
type Stats struct {
	Ready    int64 `json:"ready"`
	Delayed  int64 `json:"delayed"`
	Reserved int64 `json:"reserved"`
}

// Total returns the number of records in all collections.
func (s Stats) Total() int64 { return s.Ready + s.Delayed + s.Reserved }

// Score returns the sorted-set score for t: Unix milliseconds rounded up.
// Stores compare scores against now.UnixMilli(), so a member scored with
// Score(t) never matures before t.
func Score(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

// Store is the set of atomic operations a backing store executes on
// behalf of every producer and worker. Each method must be indivisible
// with respect to concurrent callers: this is the only coordination
// between workers.
//
// Scores are Unix milliseconds, so a record never matures before its
// exact time. now is always supplied by the caller so that
// every process agrees on a single clock source per call.
type Store interface {
	// Push appends a record to the ready list and adds one notify token.
	Push(ctx context.Context, queue string, payload []byte) error

	// Later adds a record to the delayed set, eligible at at.
	Later(ctx context.Context, queue string, payload []byte, at time.Time) error

	// Reserve pops the head of the ready list, increments its attempts,
	// adds the result to the reserved set scored now+runningTimeoutSec and
	// consumes one notify token. It returns nil, nil, nil when the ready
	// list is empty. A head that cannot be decoded is removed and
	// reported as a *CorruptRecordError.
	Reserve(ctx context.Context, queue string, now time.Time) (raw, reserved []byte, err error)

	// PromoteMatured moves every record of set scored at or before now to
	// the back of the ready list in score order, with one notify token
	// each, and returns how many were moved.
	PromoteMatured(ctx context.Context, set Set, queue string, now time.Time) (int, error)

	// Reschedule moves a reservation to the delayed set scored at. It
	// reports false and changes nothing when the reservation is no longer
	// held.
	Reschedule(ctx context.Context, queue string, reserved []byte, at time.Time) (bool, error)

	// DeleteReserved removes a reservation. Deleting an absent record is
	// not an error.
	DeleteReserved(ctx context.Context, queue string, reserved []byte) error

	// Wait blocks until a notify token can be popped, the timeout elapses
	// or ctx is done, and reports whether a token was popped. Tokens only
	// wake waiters; their count does not track the ready list.
	Wait(ctx context.Context, queue string, timeout time.Duration) (bool, error)

	// RestartSignal returns the last restart signal, or the zero time.
	RestartSignal(ctx context.Context) (time.Time, error)

	// SetRestartSignal stores a restart signal.
	SetRestartSignal(ctx context.Context, at time.Time) error

	// Size counts the records of a queue.
	Size(ctx context.Context, queue string) (Stats, error)

	// Clear deletes every record of a queue and returns how many were
	// removed.
	Clear(ctx context.Context, queue string) (int64, error)
}

// CorruptRecordError reports a ready record that could not be decoded.
// The record has already been removed from the ready list.
type CorruptRecordError struct {
	Queue   string
	Payload []byte
	Err     error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backlog: corrupt record on queue %q: %v", e.Queue, e.Err)
	}
	return fmt.Sprintf("backlog: corrupt record on queue %q", e.Queue)
}

// Unwrap lets errors.Is match backlog.ErrCorruptRecord.
func (e *CorruptRecordError) Unwrap() []error {
	if e.Err != nil {
		return []error{backlog.ErrCorruptRecord, e.Err}
	}
	return []error{backlog.ErrCorruptRecord}
}
