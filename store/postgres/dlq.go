package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
)

const failedColumns = `
	id, queue, name, payload, attempts,
	exception_class, exception_message, exception_trace, happened_at`

// PushDLQ records a failed job, replacing an earlier failure of the same
// job.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backlog_failed_jobs (`+failedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			queue = EXCLUDED.queue,
			name = EXCLUDED.name,
			payload = EXCLUDED.payload,
			attempts = EXCLUDED.attempts,
			exception_class = EXCLUDED.exception_class,
			exception_message = EXCLUDED.exception_message,
			exception_trace = EXCLUDED.exception_trace,
			happened_at = EXCLUDED.happened_at`,
		e.ID, e.Queue, e.Name, e.Payload, e.Attempts,
		e.Exception.Class, e.Exception.Message, e.Exception.Trace, e.HappenedAt,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: push failed: %w", err)
	}
	return nil
}

// ListDLQ returns failed jobs oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + failedColumns + ` FROM backlog_failed_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY happened_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list failed: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanFailed(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("backlog/postgres: scan failed row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate failed rows: %w", err)
	}
	return entries, nil
}

// GetDLQ returns a failed job by id.
func (s *Store) GetDLQ(ctx context.Context, jobID string) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+failedColumns+` FROM backlog_failed_jobs WHERE id = $1`, jobID)

	e, err := scanFailed(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backlog.ErrFailedNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get failed: %w", err)
	}
	return e, nil
}

// ForgetDLQ deletes a failed job.
func (s *Store) ForgetDLQ(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_failed_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("backlog/postgres: forget failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrFailedNotFound
	}
	return nil
}

// FlushDLQ deletes every failed job.
func (s *Store) FlushDLQ(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_failed_jobs`)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: flush failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeDLQ deletes failed jobs that happened before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_failed_jobs WHERE happened_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: purge failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of failed jobs.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backlog_failed_jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("backlog/postgres: count failed: %w", err)
	}
	return count, nil
}

func scanFailed(row pgx.Row) (*dlq.Entry, error) {
	var e dlq.Entry
	err := row.Scan(
		&e.ID, &e.Queue, &e.Name, &e.Payload, &e.Attempts,
		&e.Exception.Class, &e.Exception.Message, &e.Exception.Trace, &e.HappenedAt,
	)
	if err != nil {
		return nil, err
	}
	e.HappenedAt = e.HappenedAt.UTC()
	return &e, nil
}
