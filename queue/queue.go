package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

// Queue is the producer and consumer contract of a named job queue.
type Queue interface {
	// Enqueue encodes spec and pushes it to its queue, delayed when the
	// spec asks for it. It returns the job id.
	Enqueue(ctx context.Context, spec *job.Spec) (string, error)

	// Dequeue reserves the next ready job, waiting up to timeout for one
	// to arrive. It returns nil, nil when nothing became ready in time.
	Dequeue(ctx context.Context, timeout time.Duration) (*Pending, error)

	// EnqueueFailed pushes a failed job back to the ready list with a
	// fresh attempt budget. The failure store is not touched.
	EnqueueFailed(ctx context.Context, entry *dlq.Entry) error

	// SignalWorkerRestart asks every worker started before now to exit.
	SignalWorkerRestart(ctx context.Context) error

	// ShallWorkerRestart reports whether a restart was signaled after since.
	ShallWorkerRestart(ctx context.Context, since time.Time) (bool, error)
}

var _ Queue = (*Backed)(nil)

// Option configures a Backed queue.
type Option func(*Backed)

// WithName sets the queue name. Default job.DefaultQueue.
func WithName(name string) Option {
	return func(b *Backed) { b.name = name }
}

// WithClock sets the time source used for every score.
func WithClock(now func() time.Time) Option {
	return func(b *Backed) { b.now = now }
}

// WithRegistry sets the target registry.
func WithRegistry(r *job.Registry) Option {
	return func(b *Backed) { b.registry = r }
}

// WithIDProvider sets the identity provider for jobs enqueued without an
// explicit id.
func WithIDProvider(p id.Provider) Option {
	return func(b *Backed) { b.ids = p }
}

// WithExtensions sets the lifecycle notification registry.
func WithExtensions(r *ext.Registry) Option {
	return func(b *Backed) { b.exts = r }
}

// WithMiddleware appends execution middleware. Recover is always the
// outermost middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(b *Backed) { b.middleware = append(b.middleware, mws...) }
}

// WithFailureStore sets where exhausted jobs are recorded.
func WithFailureStore(s dlq.Store) Option {
	return func(b *Backed) { b.failed = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backed) { b.logger = l }
}

// Backed is the Queue implementation on top of a Store.
type Backed struct {
	name       string
	store      Store
	now        func() time.Time
	registry   *job.Registry
	ids        id.Provider
	exts       *ext.Registry
	middleware []middleware.Middleware
	chain      middleware.Middleware
	failed     dlq.Store
	logger     *slog.Logger
}

// New creates a queue over store.
func New(store Store, opts ...Option) *Backed {
	b := &Backed{
		name:     job.DefaultQueue,
		store:    store,
		now:      time.Now,
		registry: job.NewRegistry(),
		ids:      id.TypeID(id.PrefixJob),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.chain = middleware.Chain(append([]middleware.Middleware{middleware.Recover(b.logger)}, b.middleware...)...)
	return b
}

// Named returns a queue sharing b's configuration but bound to name.
func (b *Backed) Named(name string) *Backed {
	cp := *b
	cp.name = name
	return &cp
}

// Name returns the queue name.
func (b *Backed) Name() string { return b.name }

// Store returns the backing store.
func (b *Backed) Store() Store { return b.store }

// Registry returns the target registry.
func (b *Backed) Registry() *job.Registry { return b.registry }

// Enqueue implements Queue. A spec without a queue goes to b's queue.
func (b *Backed) Enqueue(ctx context.Context, spec *job.Spec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("%w: nil spec", backlog.ErrInvalidSpec)
	}
	if !backoff.Valid(spec.Backoff) {
		return "", fmt.Errorf("%w: unknown backoff %q", backlog.ErrInvalidSpec, spec.Backoff)
	}

	target, tag, err := b.registry.Encode(spec.Target)
	if err != nil {
		return "", err
	}

	rec := job.Record{
		ID:                spec.ID,
		Name:              spec.Name,
		MaxAttempts:       spec.MaxAttempts,
		RetryAfterSec:     seconds(spec.RetryAfter),
		RunningTimeoutSec: seconds(spec.RunningTimeout),
		Target:            target,
	}
	if rec.ID == "" {
		rec.ID = b.ids.NewID()
	}
	if rec.Name == "" {
		rec.Name = tag
	}
	if rec.RunningTimeoutSec <= 0 {
		rec.RunningTimeoutSec = seconds(job.DefaultRunningTimeout)
	}
	if spec.Backoff != backoff.NameConstant {
		rec.Backoff = spec.Backoff
	}

	queue := spec.Queue
	if queue == "" {
		queue = b.name
	}

	payload, err := job.EncodeRecord(&rec)
	if err != nil {
		return "", err
	}

	now := b.now()
	if at := spec.EligibleAt(now); at.After(now) {
		err = b.store.Later(ctx, queue, payload, at)
	} else {
		err = b.store.Push(ctx, queue, payload)
	}
	if err != nil {
		return "", err
	}

	b.exts.EmitJobEnqueued(ctx, &job.Job{Record: rec, Queue: queue, Payload: payload, Target: spec.Target})
	return rec.ID, nil
}

// Dequeue implements Queue. Matured delayed jobs and expired reservations
// are promoted before every reservation attempt.
func (b *Backed) Dequeue(ctx context.Context, timeout time.Duration) (*Pending, error) {
	p, err := b.next(ctx)
	if err != nil || p != nil || timeout <= 0 {
		return p, err
	}

	if _, err := b.store.Wait(ctx, b.name, timeout); err != nil {
		return nil, err
	}
	return b.next(ctx)
}

func (b *Backed) next(ctx context.Context) (*Pending, error) {
	if _, err := b.Sweep(ctx); err != nil {
		return nil, err
	}

	raw, reserved, err := b.store.Reserve(ctx, b.name, b.now())
	if err != nil || reserved == nil {
		return nil, err
	}

	rec, err := job.DecodeRecord(reserved)
	if err != nil {
		// Drop the reservation so the record is not reclaimed forever.
		if delErr := b.store.DeleteReserved(ctx, b.name, reserved); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return nil, &CorruptRecordError{Queue: b.name, Payload: reserved, Err: err}
	}

	p := &Pending{
		queue:    b,
		raw:      raw,
		reserved: reserved,
		job:      &job.Job{Record: *rec, Queue: b.name, Payload: reserved},
	}
	if target, decErr := b.registry.Decode(rec.Target); decErr != nil {
		p.decodeErr = decErr
	} else {
		p.job.Target = target
	}
	return p, nil
}

// Sweep promotes matured delayed jobs and expired reservations of this
// queue back to the ready list and returns how many were moved.
func (b *Backed) Sweep(ctx context.Context) (int, error) {
	now := b.now()
	delayed, err := b.store.PromoteMatured(ctx, SetDelayed, b.name, now)
	if err != nil {
		return 0, err
	}
	reclaimed, err := b.store.PromoteMatured(ctx, SetReserved, b.name, now)
	if err != nil {
		return delayed, err
	}
	if reclaimed > 0 {
		b.logger.Warn("expired reservations reclaimed",
			slog.String("queue", b.name),
			slog.Int("count", reclaimed),
		)
	}
	return delayed + reclaimed, nil
}

// EnqueueFailed implements Queue. The entry's queue wins over b's.
func (b *Backed) EnqueueFailed(ctx context.Context, entry *dlq.Entry) error {
	rec, err := job.DecodeRecord(entry.Payload)
	if err != nil {
		return fmt.Errorf("requeue failed job %q: %w", entry.ID, err)
	}
	rec.Attempts = 0

	payload, err := job.EncodeRecord(rec)
	if err != nil {
		return err
	}
	queue := entry.Queue
	if queue == "" {
		queue = b.name
	}
	if err := b.store.Push(ctx, queue, payload); err != nil {
		return err
	}

	b.exts.EmitJobEnqueued(ctx, &job.Job{Record: *rec, Queue: queue, Payload: payload})
	return nil
}

// SignalWorkerRestart implements Queue.
func (b *Backed) SignalWorkerRestart(ctx context.Context) error {
	return b.store.SetRestartSignal(ctx, b.now())
}

// ShallWorkerRestart implements Queue. Signals are stored with
// millisecond precision, so since is compared at that precision too. A
// signal in the same millisecond as since counts: a worker may restart
// once needlessly but never misses a signal.
func (b *Backed) ShallWorkerRestart(ctx context.Context, since time.Time) (bool, error) {
	signal, err := b.store.RestartSignal(ctx)
	if err != nil {
		return false, err
	}
	if signal.IsZero() {
		return false, nil
	}
	return !signal.Before(since.Truncate(time.Millisecond)), nil
}

// Stats counts the records of this queue.
func (b *Backed) Stats(ctx context.Context) (Stats, error) {
	return b.store.Size(ctx, b.name)
}

// Clear deletes every record of this queue.
func (b *Backed) Clear(ctx context.Context) (int64, error) {
	return b.store.Clear(ctx, b.name)
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
