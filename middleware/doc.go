// Package middleware wraps the execution of job targets.
//
// A [Middleware] receives the job being attempted and the next
// [Handler]. [Chain] composes middleware with the first one outermost.
// queue.Backed always installs [Recover] first so a panicking target
// becomes a *job.PanicError and follows the normal retry path.
//
// Built-in middleware:
//
//   - [Recover]: panics to errors, with stack
//   - [Logging]: one line per attempt outcome
//   - [Timeout]: cancels the context after the job's running timeout
//   - [Tracing]: OpenTelemetry span per attempt
//   - [Metrics]: OpenTelemetry duration histogram and attempt counter
package middleware
