// Package backlog provides a durable, at-least-once background job queue
// for Go. Producers enqueue deferred work; independent worker processes
// dequeue, execute, retry and permanently fail it, coordinating only
// through atomic scripts executed by a shared store.
//
// backlog is designed as a library first. Import it, configure a store,
// register job targets, and run workers from your own binary or from the
// bundled cmd/backlog front-end.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	eng, err := engine.New(redisstore.New(client))
//	engine.Register(eng, sendEmail)
//	_, err = engine.Enqueue(ctx, eng, sendEmail, Email{To: "a@b.c"})
//
//	w := eng.NewWorker("", worker.WithTimeout(5*time.Second))
//	err = w.Run(ctx)
//
// # Architecture
//
// Each named queue is three collections in the store: a FIFO ready list,
// a delayed set ordered by maturity, and a reserved set ordered by the
// visibility deadline. Four atomic operations (push, reserve,
// promote-matured and reschedule) move encoded job records between them,
// so no two workers can ever observe the same ready job.
//
// Job identities default to TypeIDs (prefix "job"), which are
// K-sortable and UUIDv7-based.
package backlog
