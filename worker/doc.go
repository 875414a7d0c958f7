// Package worker consumes a queue.
//
// A [Worker] is a single-threaded loop: it dequeues one job, runs it,
// releases it and starts over until it is stopped, its context is
// canceled or a restart is signaled through the queue. Parallelism comes
// from running more loops, either as goroutines in a [Pool] or as
// processes supervised by a [Listener].
//
// Stop is graceful: the job in hand finishes and the loop exits at the
// next iteration boundary. Kill is not: a dedicated goroutine receives the
// instruction and terminates the process (SIGKILL by default), leaving the
// current reservation to be reclaimed once its running timeout expires.
package worker
