package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/backlog/job"
)

// Recover converts a panic in the rest of the chain into a
// *job.PanicError carrying the stack, so the panic is handled like any
// other target error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("job target panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID),
					slog.String("queue", j.Queue),
					slog.Any("panic", r),
				)
				retErr = &job.PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
