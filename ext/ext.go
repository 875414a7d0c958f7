package ext

import (
	"context"
	"time"

	"github.com/xraph/backlog/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// WorkerInfo identifies a worker loop in worker lifecycle events.
type WorkerInfo struct {
	ID        string
	Queue     string
	StartedAt time.Time
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job has been pushed to the store.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobRunning is called right before a reserved job's target runs.
type JobRunning interface {
	OnJobRunning(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after the target returned without error and the
// reservation was deleted.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobException is called when the target failed and the job has been
// rescheduled for nextAt.
type JobException interface {
	OnJobException(ctx context.Context, j *job.Job, err error, nextAt time.Time) error
}

// JobFailed is called once the job has been recorded in the failure store.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Worker lifecycle hooks
// ──────────────────────────────────────────────────

// WorkerStarted is called when a continuous worker loop begins.
type WorkerStarted interface {
	OnWorkerStarted(ctx context.Context, w WorkerInfo) error
}

// WorkerStopped is called when a worker loop exits. Reason is one of
// "stopped", "restart", "canceled" or "killed".
type WorkerStopped interface {
	OnWorkerStopped(ctx context.Context, w WorkerInfo, reason string) error
}

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID string) error
}
