// Package dlq is the failure store: the durable record of jobs that ran
// out of attempts.
//
// When a job fails for good, the pending executable builds an [Entry]
// holding the queue, job id and name, the wire payload as it was
// reserved, the attempt count and the captured [Exception], and pushes it
// to a [Store]. Entries stay until an operator forgets, flushes, purges or
// retries them. Nothing expires on its own.
//
// [Service] adds the operator actions on top of a Store:
//
//	svc := dlq.NewService(store, q, logger)
//
//	entries, _ := svc.List(ctx, dlq.ListOpts{Queue: "emails", Limit: 50})
//	_ = svc.Retry(ctx, entries[0].ID) // back to its queue, attempts reset
//	_, _ = svc.Flush(ctx)
//
// Store implementations live in store/redis, store/postgres, store/sqlite
// and store/memory.
package dlq
