package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/backlog"
)

// Runnable is the single capability every job target provides.
type Runnable interface {
	Run(ctx context.Context) error
}

// Record is the encoded job as stored in the ready list and in the
// delayed and reserved sets.
type Record struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Attempts          int    `json:"attempts"`
	MaxAttempts       int    `json:"maxAttempts"`
	RetryAfterSec     int64  `json:"retryAfterSec"`
	RunningTimeoutSec int64  `json:"runningTimeoutSec"`
	Target            []byte `json:"target"`
	// Backoff names the retry delay strategy. Empty means constant.
	Backoff string `json:"backoff,omitempty"`
}

// CanRetry reports whether another attempt is allowed after the current
// one. MaxAttempts <= 0 means unlimited.
func (r *Record) CanRetry() bool {
	return r.MaxAttempts <= 0 || r.Attempts < r.MaxAttempts
}

// RetryAfter returns the base retry delay.
func (r *Record) RetryAfter() time.Duration {
	return time.Duration(r.RetryAfterSec) * time.Second
}

// RunningTimeout returns the visibility timeout of a reservation.
func (r *Record) RunningTimeout() time.Duration {
	return time.Duration(r.RunningTimeoutSec) * time.Second
}

// EncodeRecord serializes a record to its wire format.
func EncodeRecord(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("job: encode record %q: %w", r.ID, err)
	}
	return data, nil
}

// DecodeRecord parses a wire record. Any failure wraps
// backlog.ErrCorruptRecord.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", backlog.ErrCorruptRecord, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing id", backlog.ErrCorruptRecord)
	}
	return &r, nil
}

// Job is the runtime view of a job handed to middleware and extensions.
type Job struct {
	Record

	// Queue is the named queue the job was pushed to or reserved from.
	Queue string

	// Payload is the wire record as currently held by the store.
	Payload []byte

	// Target is the decoded runnable. Nil when the target could not be
	// decoded.
	Target Runnable
}
