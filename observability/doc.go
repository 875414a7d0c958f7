// Package observability provides an OpenTelemetry metrics extension for
// backlog. MetricsExtension implements the lifecycle hooks of package ext
// and counts enqueues, completions, exceptions, failures, worker starts
// and stops, and cron fires.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
