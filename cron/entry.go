package cron

import (
	"time"

	"github.com/xraph/backlog/job"
)

// Entry is a recurring job. Build is called on every fire and must return
// a fresh spec.
type Entry struct {
	// Name identifies the entry. Unique per scheduler.
	Name string

	// Schedule is a cron expression ("*/5 * * * *") or a descriptor
	// ("@hourly", "@every 30s").
	Schedule string

	// Queue overrides the queue of the built spec when set.
	Queue string

	Build func() *job.Spec
}

// Definition is a typed cron entry that enqueues a job definition with a
// fixed payload.
type Definition[T any] struct {
	Name     string
	Schedule string
	Job      *job.Definition[T]
	Payload  T
	Queue    string
	Opts     []job.Option
}

// Entry converts the definition to an Entry.
func (d *Definition[T]) Entry() Entry {
	return Entry{
		Name:     d.Name,
		Schedule: d.Schedule,
		Queue:    d.Queue,
		Build: func() *job.Spec {
			return d.Job.Spec(d.Payload, d.Opts...)
		},
	}
}

// Status describes a registered entry.
type Status struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Queue    string    `json:"queue,omitempty"`
	LastRun  time.Time `json:"last_run,omitzero"`
	NextRun  time.Time `json:"next_run"`
}
