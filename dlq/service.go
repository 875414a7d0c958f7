package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Requeuer puts a failed job back on its queue. queue.Backed implements it.
type Requeuer interface {
	EnqueueFailed(ctx context.Context, entry *Entry) error
}

// Service provides the failure store operations used by the CLI and the
// admin API.
type Service struct {
	store    Store
	requeuer Requeuer
	logger   *slog.Logger
}

// NewService creates a failure service. requeuer may be nil when retries
// are not needed.
func NewService(store Store, requeuer Requeuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, requeuer: requeuer, logger: logger}
}

// Store returns the underlying failure store.
func (s *Service) Store() Store { return s.store }

// HandleFailed records a failed job.
func (s *Service) HandleFailed(ctx context.Context, entry *Entry) error {
	if entry.HappenedAt.IsZero() {
		entry.HappenedAt = time.Now().UTC()
	}
	return s.store.PushDLQ(ctx, entry)
}

// List returns recorded failures.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Find returns the failure recorded for a job id.
func (s *Service) Find(ctx context.Context, id string) (*Entry, error) {
	return s.store.GetDLQ(ctx, id)
}

// Forget deletes one failure.
func (s *Service) Forget(ctx context.Context, id string) error {
	return s.store.ForgetDLQ(ctx, id)
}

// Flush deletes every failure.
func (s *Service) Flush(ctx context.Context) (int64, error) {
	return s.store.FlushDLQ(ctx)
}

// Purge deletes failures older than before.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// Count returns the number of recorded failures.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Retry pushes the failed job back to its queue with a fresh attempt
// budget and forgets the failure. The entry is kept when the push fails.
func (s *Service) Retry(ctx context.Context, id string) error {
	if s.requeuer == nil {
		return fmt.Errorf("dlq: retry %q: no requeuer configured", id)
	}
	entry, err := s.store.GetDLQ(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requeuer.EnqueueFailed(ctx, entry); err != nil {
		return fmt.Errorf("dlq: retry %q: %w", id, err)
	}
	if err := s.store.ForgetDLQ(ctx, id); err != nil {
		// The job is already back on its queue.
		s.logger.Warn("retried failed job could not be forgotten",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// RetryAll retries every failure, optionally restricted to one queue, and
// returns how many were pushed back. It stops at the first error.
func (s *Service) RetryAll(ctx context.Context, queue string) (int, error) {
	entries, err := s.store.ListDLQ(ctx, ListOpts{Queue: queue})
	if err != nil {
		return 0, err
	}
	retried := 0
	for _, e := range entries {
		if err := s.Retry(ctx, e.ID); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}
