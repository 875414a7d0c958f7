package middleware

import (
	"context"

	"github.com/xraph/backlog/job"
)

// Handler runs the job target.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the job
// being executed and must call next unless it short-circuits with an
// error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. The first middleware is the
// outermost:
//
//	Chain(recover, tracing, logging) runs recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
