package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/backlog/job"
)

// Timeout cancels the target's context once the job's running timeout
// has elapsed. Targets that ignore their context keep running; the store
// still reclaims the reservation once the timeout passes.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		limit := j.RunningTimeout()
		if limit <= 0 {
			return next(ctx)
		}
		logger.Debug("job deadline set",
			slog.String("job_id", j.ID),
			slog.Duration("timeout", limit),
		)
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		return next(ctx)
	}
}
