// Package ext is the lifecycle notification bus of backlog.
//
// Extensions are told when jobs are enqueued, start running, complete,
// raise an exception that will be retried, or fail for good, and when
// worker loops start and stop. Each hook is its own interface so an
// extension implements only the events it cares about.
//
//	type progress struct{}
//
//	func (progress) Name() string { return "progress" }
//
//	func (progress) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    fmt.Printf("failed: %s (%v)\n", j.Name, err)
//	    return nil
//	}
//
// Hooks:
//
//   - [JobEnqueued]
//   - [JobRunning]
//   - [JobCompleted]
//   - [JobException]
//   - [JobFailed]
//   - [WorkerStarted]
//   - [WorkerStopped]
//   - [CronFired]
//
// Errors returned by hooks are logged by the [Registry] and otherwise
// ignored.
package ext
