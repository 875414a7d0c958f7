// Package queue implements the store-backed job queue and the lifecycle
// of a reserved job.
//
// Every named queue is three collections in the backing [Store]: a ready
// list (FIFO), a delayed set scored by maturity time and a reserved set
// scored by reservation deadline, plus a notify list whose tokens wake
// blocked consumers. All mutations go through the Store's atomic
// operations; nothing in this package takes a lock across workers.
//
// [Backed] is the [Queue] implementation:
//
//	q := queue.New(store,
//	    queue.WithName("emails"),
//	    queue.WithRegistry(registry),
//	    queue.WithFailureStore(store),
//	)
//	id, err := q.Enqueue(ctx, job.NewSpec(&SendEmail{To: "a@b.c"}, job.WithMaxAttempts(5)))
//
//	p, err := q.Dequeue(ctx, 5*time.Second)
//	if p != nil {
//	    err = p.Run(ctx)
//	    _ = p.Release(ctx)
//	}
//
// A [Pending] job moves Reserved → Running → Completed, RetryScheduled or
// Failed. The reserve operation increments the attempt counter in the
// store, so a worker crash never loses an attempt. Retries are delayed by
// the backoff carried in the job record. Exhausted jobs are recorded in
// the failure store before their reservation is deleted.
//
// Before each reservation attempt [Backed.Dequeue] promotes matured
// delayed jobs and expired reservations, so no separate sweeper process
// is required. A job that overruns its running timeout may therefore run
// twice; targets must tolerate that.
package queue
