package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Named entry types pair a hook with the extension name captured at
// registration time.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobRunningEntry struct {
	name string
	hook JobRunning
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobExceptionEntry struct {
	name string
	hook JobException
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type workerStartedEntry struct {
	name string
	hook WorkerStarted
}

type workerStoppedEntry struct {
	name string
	hook WorkerStopped
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Hooks are type-cached at registration so each emit only walks
// the extensions implementing it. Register all extensions before the
// registry is shared between goroutines.
//
// A nil *Registry is valid and emits nothing.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued   []jobEnqueuedEntry
	jobRunning    []jobRunningEntry
	jobCompleted  []jobCompletedEntry
	jobException  []jobExceptionEntry
	jobFailed     []jobFailedEntry
	workerStarted []workerStartedEntry
	workerStopped []workerStoppedEntry
	cronFired     []cronFiredEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobRunning); ok {
		r.jobRunning = append(r.jobRunning, jobRunningEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobException); ok {
		r.jobException = append(r.jobException, jobExceptionEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(WorkerStarted); ok {
		r.workerStarted = append(r.workerStarted, workerStartedEntry{name, h})
	}
	if h, ok := e.(WorkerStopped); ok {
		r.workerStopped = append(r.workerStopped, workerStoppedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobRunning notifies all extensions that implement JobRunning.
func (r *Registry) EmitJobRunning(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.jobRunning {
		if err := e.hook.OnJobRunning(ctx, j); err != nil {
			r.logHookError("OnJobRunning", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobException notifies all extensions that implement JobException.
func (r *Registry) EmitJobException(ctx context.Context, j *job.Job, jobErr error, nextAt time.Time) {
	if r == nil {
		return
	}
	for _, e := range r.jobException {
		if err := e.hook.OnJobException(ctx, j, jobErr, nextAt); err != nil {
			r.logHookError("OnJobException", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	if r == nil {
		return
	}
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitWorkerStarted notifies all extensions that implement WorkerStarted.
func (r *Registry) EmitWorkerStarted(ctx context.Context, w WorkerInfo) {
	if r == nil {
		return
	}
	for _, e := range r.workerStarted {
		if err := e.hook.OnWorkerStarted(ctx, w); err != nil {
			r.logHookError("OnWorkerStarted", e.name, err)
		}
	}
}

// EmitWorkerStopped notifies all extensions that implement WorkerStopped.
func (r *Registry) EmitWorkerStopped(ctx context.Context, w WorkerInfo, reason string) {
	if r == nil {
		return
	}
	for _, e := range r.workerStopped {
		if err := e.hook.OnWorkerStopped(ctx, w, reason); err != nil {
			r.logHookError("OnWorkerStopped", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName, jobID string) {
	if r == nil {
		return
	}
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, jobID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never reach the job
// lifecycle.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
