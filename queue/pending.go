package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
)

// State is the lifecycle state of a Pending job.
type State int

const (
	StateReserved State = iota
	StateRunning
	StateCompleted
	StateRetryScheduled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReserved:
		return "reserved"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pending is a reserved job owned by one worker. Run executes it and
// decides between completion, retry and failure; Release cleans up
// whatever Run left behind.
type Pending struct {
	queue     *Backed
	raw       []byte
	reserved  []byte
	job       *job.Job
	decodeErr error

	mu    sync.Mutex
	state State
	err   error
}

// Job returns the reserved job. Attempts already counts this reservation.
func (p *Pending) Job() *job.Job { return p.job }

// State returns the current lifecycle state.
func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error raised by the target, if any.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pending) setState(s State, err error) {
	p.mu.Lock()
	p.state = s
	if err != nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Run executes the target once. Target errors and panics never escape:
// they are resolved into a retry or a recorded failure. The returned error
// is a store error that left the job reserved; the reservation is then
// reclaimed once it expires. Run may only be called once.
func (p *Pending) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateReserved {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: run in state %s", backlog.ErrInvalidState, state)
	}
	p.state = StateRunning
	p.mu.Unlock()

	q, j := p.queue, p.job
	q.exts.EmitJobRunning(ctx, j)

	start := time.Now()
	err := p.execute(ctx)
	if err == nil {
		return p.complete(ctx, time.Since(start))
	}
	if j.CanRetry() && !job.IsPermanent(err) {
		return p.retry(ctx, err)
	}
	return p.fail(ctx, err)
}

func (p *Pending) execute(ctx context.Context) error {
	if p.decodeErr != nil {
		return job.Permanent(fmt.Errorf("decode target: %w", p.decodeErr))
	}
	target := p.job.Target
	return p.queue.chain(ctx, p.job, target.Run)
}

func (p *Pending) complete(ctx context.Context, elapsed time.Duration) error {
	q, j := p.queue, p.job
	p.setState(StateCompleted, nil)
	if err := q.store.DeleteReserved(ctx, j.Queue, p.reserved); err != nil {
		return fmt.Errorf("delete completed job %q: %w", j.ID, err)
	}
	q.exts.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (p *Pending) retry(ctx context.Context, cause error) error {
	q, j := p.queue, p.job

	delay := backoff.ByName(j.Backoff, j.RetryAfter()).Delay(j.Attempts)
	nextAt := q.now().Add(delay)

	held, err := q.store.Reschedule(ctx, j.Queue, p.reserved, nextAt)
	if err != nil {
		p.setState(StateRunning, cause)
		return fmt.Errorf("reschedule job %q: %w", j.ID, err)
	}
	if !held {
		// The reservation expired and was promoted while the target ran.
		// Another attempt is already in circulation.
		q.logger.Warn("reservation lost before retry",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
		)
	}

	p.setState(StateRetryScheduled, cause)
	q.exts.EmitJobException(ctx, j, cause, nextAt)
	return nil
}

func (p *Pending) fail(ctx context.Context, cause error) error {
	q, j := p.queue, p.job

	entry := &dlq.Entry{
		ID:         j.ID,
		Queue:      j.Queue,
		Name:       j.Name,
		Payload:    p.raw,
		Attempts:   j.Attempts,
		Exception:  dlq.NewException(cause),
		HappenedAt: q.now().UTC(),
	}
	if q.failed != nil {
		if err := q.failed.PushDLQ(ctx, entry); err != nil {
			p.setState(StateRunning, cause)
			return fmt.Errorf("record failed job %q: %w", j.ID, err)
		}
	} else {
		q.logger.Warn("no failure store configured, failed job dropped",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
		)
	}

	p.setState(StateFailed, cause)
	if err := q.store.DeleteReserved(ctx, j.Queue, p.reserved); err != nil {
		return fmt.Errorf("delete failed job %q: %w", j.ID, err)
	}
	q.exts.EmitJobFailed(ctx, j, cause)
	return nil
}

// Release finishes the reservation. It is safe to call any number of
// times and in any state:
//   - never run: the job goes back to the ready list, keeping the attempt
//   - running (Run hit a store error): the reservation is left to expire
//   - finished: the reservation is deleted if it still exists
func (p *Pending) Release(ctx context.Context) error {
	q, j := p.queue, p.job

	switch p.State() {
	case StateReserved:
		if _, err := q.store.Reschedule(ctx, j.Queue, p.reserved, q.now()); err != nil {
			return fmt.Errorf("release job %q: %w", j.ID, err)
		}
		return nil
	case StateRunning:
		return nil
	default:
		if err := q.store.DeleteReserved(ctx, j.Queue, p.reserved); err != nil {
			return fmt.Errorf("release job %q: %w", j.ID, err)
		}
		return nil
	}
}
