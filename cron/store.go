package cron

import (
	"context"
	"time"

	"github.com/xraph/backlog/job"
)

// Locker takes a short-lived lock so that only one scheduler fires a
// given slot. Locks are never released; they expire after ttl.
type Locker interface {
	AcquireCronLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// Enqueuer pushes the spec built by a fired entry. queue.Backed
// implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec *job.Spec) (string, error)
}

// Sweeper promotes matured delayed jobs and expired reservations.
// queue.Backed implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Emitter emits cron lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName, jobID string)
}
