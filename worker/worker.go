package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Stop reasons reported to WorkerStopped hooks.
const (
	ReasonStopped  = "stopped"
	ReasonRestart  = "restart"
	ReasonCanceled = "canceled"
	ReasonKilled   = "killed"
)

// DefaultTimeout is how long a dequeue waits for a job to arrive.
const DefaultTimeout = 5 * time.Second

// Option configures a Worker.
type Option func(*Worker)

// WithID sets the worker id. Default: a new wkr_ TypeID.
func WithID(workerID string) Option {
	return func(w *Worker) { w.id = workerID }
}

// WithTimeout sets how long each dequeue waits for a job.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

// WithExtensions sets the lifecycle notification registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Worker) { w.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithRateLimit throttles dequeues to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(w *Worker) { w.limiter = rate.NewLimiter(r, burst) }
}

// WithErrorPause sets how long the loop sleeps after a store error.
func WithErrorPause(d time.Duration) Option {
	return func(w *Worker) { w.errorPause = d }
}

// WithTerminate replaces the action taken on Kill.
func WithTerminate(fn func()) Option {
	return func(w *Worker) { w.terminate = fn }
}

// WithClock sets the time source used for the start time.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker runs jobs from one queue, one at a time.
type Worker struct {
	id         string
	queue      queue.Queue
	queueName  string
	timeout    time.Duration
	exts       *ext.Registry
	logger     *slog.Logger
	limiter    *rate.Limiter
	errorPause time.Duration
	terminate  func()
	now        func() time.Time

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	killCh   chan struct{}
	killOnce sync.Once
}

// New creates a worker for q.
func New(q queue.Queue, opts ...Option) *Worker {
	w := &Worker{
		id:         id.NewWorkerID().String(),
		queue:      q,
		queueName:  job.DefaultQueue,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
		errorPause: time.Second,
		terminate:  killSelf,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		killCh:     make(chan struct{}),
	}
	if named, ok := q.(interface{ Name() string }); ok {
		w.queueName = named.Name()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// killSelf sends SIGKILL to the current process.
func killSelf() {
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Kill() //nolint:errcheck // the process is going away either way
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Running reports whether Run is in progress. It stays true after Stop
// until the current job finishes and Run returns.
func (w *Worker) Running() bool { return w.running.Load() }

// Run processes jobs until the worker is stopped, ctx is canceled or a
// restart is signaled. Jobs always run to completion: cancellation is
// only observed between jobs.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return backlog.ErrWorkerRunning
	}
	defer w.running.Store(false)

	info := ext.WorkerInfo{ID: w.id, Queue: w.queueName, StartedAt: w.now()}
	done := make(chan struct{})
	defer close(done)
	go w.watchKill(info, done)

	w.logger.Info("worker started",
		slog.String("worker_id", w.id),
		slog.String("queue", w.queueName),
	)
	w.exts.EmitWorkerStarted(ctx, info)

	// Stop interrupts a dequeue that is waiting for work.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	reason := w.loop(loopCtx, info.StartedAt)

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.id),
		slog.String("queue", w.queueName),
		slog.String("reason", reason),
	)
	w.exts.EmitWorkerStopped(context.WithoutCancel(ctx), info, reason)
	return nil
}

func (w *Worker) loop(ctx context.Context, startedAt time.Time) string {
	for {
		select {
		case <-w.stopCh:
			return ReasonStopped
		default:
		}
		if ctx.Err() != nil {
			return ReasonCanceled
		}

		restart, err := w.queue.ShallWorkerRestart(ctx, startedAt)
		if err != nil {
			w.logger.Error("restart signal check failed", slog.String("error", err.Error()))
			w.pause(ctx)
			continue
		}
		if restart {
			return ReasonRestart
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				continue
			}
		}

		if _, err := w.process(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			var corrupt *queue.CorruptRecordError
			if errors.As(err, &corrupt) {
				w.logger.Error("corrupt job record skipped",
					slog.String("queue", corrupt.Queue),
					slog.String("payload", string(corrupt.Payload)),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.logger.Error("dequeue error", slog.String("error", err.Error()))
			w.pause(ctx)
		}
	}
}

// RunOnce dequeues and runs at most one job. It reports whether a job was
// found. Store errors, including corrupt records, are returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	return w.process(ctx)
}

// process runs a single dequeue-run-release cycle. Errors from Run and
// Release are logged: the job is already out of the caller's hands.
func (w *Worker) process(ctx context.Context) (bool, error) {
	p, err := w.queue.Dequeue(ctx, w.timeout)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	// A job that started runs to the end even when the worker is told to
	// stop.
	runCtx := context.WithoutCancel(ctx)
	j := p.Job()
	if err := p.Run(runCtx); err != nil {
		w.logger.Error("job left reserved after store error",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("state", p.State().String()),
			slog.String("error", err.Error()),
		)
	}
	if err := p.Release(runCtx); err != nil {
		w.logger.Error("release failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.errorPause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	case <-ctx.Done():
	}
}

// Stop asks the loop to exit after the job in hand. Safe to call many
// times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Kill terminates the worker without waiting for the job in hand.
func (w *Worker) Kill() {
	w.killOnce.Do(func() { close(w.killCh) })
}

func (w *Worker) watchKill(info ext.WorkerInfo, done <-chan struct{}) {
	select {
	case <-w.killCh:
		w.logger.Warn("worker killed", slog.String("worker_id", w.id))
		w.exts.EmitWorkerStopped(context.Background(), info, ReasonKilled)
		w.terminate()
	case <-done:
	}
}
