// Package cron enqueues recurring jobs.
//
// Entries are registered in code when the process starts. Every scheduler
// evaluates every entry, and a per-slot lock taken through a [Locker]
// (the Redis store implements it with SET NX) makes sure a slot is
// enqueued once even when many processes run a scheduler:
//
//	s := cron.NewScheduler(q, redisStore, exts, "wkr_01", logger)
//	_ = s.Add((&cron.Definition[Report]{
//	    Name:     "nightly-report",
//	    Schedule: "0 3 * * *",
//	    Job:      generateReport,
//	    Payload:  Report{Format: "pdf"},
//	}).Entry())
//	_ = s.Start(ctx)
//	defer s.Stop(ctx)
//
// A scheduler can also carry [Sweeper]s. Workers already promote delayed
// jobs before each reservation; a sweeper keeps queue sizes accurate for
// queues nobody is consuming right now.
package cron
