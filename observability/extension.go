package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobCompleted  = (*MetricsExtension)(nil)
	_ ext.JobException  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.WorkerStarted = (*MetricsExtension)(nil)
	_ ext.WorkerStopped = (*MetricsExtension)(nil)
	_ ext.CronFired     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/backlog/observability"

// MetricsExtension records system-wide lifecycle counters. Register it
// as an extension to track enqueue rates, completions, retries, failures,
// worker restarts and cron fires.
//
// Job counters carry job_name and queue attributes; worker counters carry
// queue (and reason on stop); cron fires carry entry.
type MetricsExtension struct {
	JobEnqueued    metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobException   metric.Int64Counter
	JobFailed      metric.Int64Counter
	WorkerStarted  metric.Int64Counter
	WorkerStopped  metric.Int64Counter
	CronFired      metric.Int64Counter
	activeWorkers  metric.Int64UpDownCounter
	jobRunDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with an explicit meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API hands back noop instruments alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	active, _ := meter.Int64UpDownCounter( //nolint:errcheck // noop fallback
		"backlog.worker.active",
		metric.WithDescription("Worker loops currently running"),
	)
	runs, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"backlog.job.completed.duration",
		metric.WithDescription("Duration of successful job attempts in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobEnqueued:    counter("backlog.job.enqueued", "Jobs pushed to a queue"),
		JobCompleted:   counter("backlog.job.completed", "Jobs that completed"),
		JobException:   counter("backlog.job.exception", "Attempts that raised and were rescheduled"),
		JobFailed:      counter("backlog.job.failed", "Jobs recorded as permanently failed"),
		WorkerStarted:  counter("backlog.worker.started", "Worker loops started"),
		WorkerStopped:  counter("backlog.worker.stopped", "Worker loops stopped"),
		CronFired:      counter("backlog.cron.fired", "Cron entries fired"),
		activeWorkers:  active,
		jobRunDuration: runs,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := jobAttrs(j)
	m.JobCompleted.Add(ctx, 1, attrs)
	m.jobRunDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobException implements ext.JobException.
func (m *MetricsExtension) OnJobException(ctx context.Context, j *job.Job, _ error, _ time.Time) error {
	m.JobException.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Worker lifecycle hooks ──────────────────────────

// OnWorkerStarted implements ext.WorkerStarted.
func (m *MetricsExtension) OnWorkerStarted(ctx context.Context, w ext.WorkerInfo) error {
	attrs := metric.WithAttributes(attribute.String("queue", w.Queue))
	m.WorkerStarted.Add(ctx, 1, attrs)
	m.activeWorkers.Add(ctx, 1, attrs)
	return nil
}

// OnWorkerStopped implements ext.WorkerStopped.
func (m *MetricsExtension) OnWorkerStopped(ctx context.Context, w ext.WorkerInfo, reason string) error {
	m.WorkerStopped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", w.Queue),
		attribute.String("reason", reason),
	))
	m.activeWorkers.Add(ctx, -1, metric.WithAttributes(attribute.String("queue", w.Queue)))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entry, _ string) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entry)))
	return nil
}
