package dlq

import (
	"context"
	"time"
)

// ListOpts controls pagination and filtering for failed job queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for failed jobs. Entries are
// keyed by job id and listed oldest first.
type Store interface {
	// PushDLQ records a failed job. An existing entry with the same id is
	// replaced.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts ordered by HappenedAt.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns the entry for a job id or backlog.ErrFailedNotFound.
	GetDLQ(ctx context.Context, id string) (*Entry, error)

	// ForgetDLQ deletes one entry. Returns backlog.ErrFailedNotFound when
	// there was nothing to delete.
	ForgetDLQ(ctx context.Context, id string) error

	// FlushDLQ deletes every entry and returns how many were removed.
	FlushDLQ(ctx context.Context) (int64, error)

	// PurgeDLQ removes entries that happened before the given time.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of stored entries.
	CountDLQ(ctx context.Context) (int64, error)
}
