package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Logging logs the outcome of every attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Debug("job attempt started",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job attempt failed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Info("job attempt succeeded",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
