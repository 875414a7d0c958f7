package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
)

// failedRow maps a backlog_failed_jobs row. happened_at is stored as Unix
// nanoseconds so ordering and purging compare integers.
type failedRow struct {
	ID               string `db:"id"`
	Queue            string `db:"queue"`
	Name             string `db:"name"`
	Payload          []byte `db:"payload"`
	Attempts         int    `db:"attempts"`
	ExceptionClass   string `db:"exception_class"`
	ExceptionMessage string `db:"exception_message"`
	ExceptionTrace   string `db:"exception_trace"`
	HappenedAt       int64  `db:"happened_at"`
}

func toRow(e *dlq.Entry) *failedRow {
	return &failedRow{
		ID:               e.ID,
		Queue:            e.Queue,
		Name:             e.Name,
		Payload:          e.Payload,
		Attempts:         e.Attempts,
		ExceptionClass:   e.Exception.Class,
		ExceptionMessage: e.Exception.Message,
		ExceptionTrace:   e.Exception.Trace,
		HappenedAt:       e.HappenedAt.UnixNano(),
	}
}

func (r *failedRow) entry() *dlq.Entry {
	return &dlq.Entry{
		ID:       r.ID,
		Queue:    r.Queue,
		Name:     r.Name,
		Payload:  r.Payload,
		Attempts: r.Attempts,
		Exception: dlq.Exception{
			Class:   r.ExceptionClass,
			Message: r.ExceptionMessage,
			Trace:   r.ExceptionTrace,
		},
		HappenedAt: time.Unix(0, r.HappenedAt).UTC(),
	}
}

const selectFailed = `SELECT id, queue, name, payload, attempts,
	exception_class, exception_message, exception_trace, happened_at
	FROM backlog_failed_jobs`

// PushDLQ records a failed job, replacing an earlier failure of the same
// job.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO backlog_failed_jobs (
			id, queue, name, payload, attempts,
			exception_class, exception_message, exception_trace, happened_at
		) VALUES (
			:id, :queue, :name, :payload, :attempts,
			:exception_class, :exception_message, :exception_trace, :happened_at
		)`, toRow(e))
	if err != nil {
		return fmt.Errorf("backlog/sqlite: push failed: %w", err)
	}
	return nil
}

// ListDLQ returns failed jobs oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := selectFailed + ` WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	query += ` ORDER BY happened_at ASC, id ASC`

	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var rows []failedRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("backlog/sqlite: list failed: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].entry())
	}
	return entries, nil
}

// GetDLQ returns a failed job by id.
func (s *Store) GetDLQ(ctx context.Context, jobID string) (*dlq.Entry, error) {
	var row failedRow
	err := s.db.GetContext(ctx, &row, selectFailed+` WHERE id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backlog.ErrFailedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backlog/sqlite: get failed: %w", err)
	}
	return row.entry(), nil
}

// ForgetDLQ deletes a failed job.
func (s *Store) ForgetDLQ(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backlog_failed_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("backlog/sqlite: forget failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("backlog/sqlite: forget failed: %w", err)
	}
	if n == 0 {
		return backlog.ErrFailedNotFound
	}
	return nil
}

// FlushDLQ deletes every failed job.
func (s *Store) FlushDLQ(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "flush", `DELETE FROM backlog_failed_jobs`)
}

// PurgeDLQ deletes failed jobs that happened before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteWhere(ctx, "purge",
		`DELETE FROM backlog_failed_jobs WHERE happened_at < ?`, before.UnixNano())
}

func (s *Store) deleteWhere(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("backlog/sqlite: %s failed: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backlog/sqlite: %s failed: %w", op, err)
	}
	return n, nil
}

// CountDLQ returns the number of failed jobs.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM backlog_failed_jobs`); err != nil {
		return 0, fmt.Errorf("backlog/sqlite: count failed: %w", err)
	}
	return n, nil
}
