package backlog

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("backlog: no store configured")
	ErrStoreClosed     = errors.New("backlog: store closed")
	ErrMigrationFailed = errors.New("backlog: migration failed")

	// Not found errors.
	ErrFailedNotFound = errors.New("backlog: failed job not found")

	// Record errors.
	ErrCorruptRecord = errors.New("backlog: corrupt job record")
	ErrUnknownTarget = errors.New("backlog: unknown job target")
	ErrInvalidSpec   = errors.New("backlog: invalid job spec")

	// State errors.
	ErrInvalidState     = errors.New("backlog: invalid state transition")
	ErrReservationLost  = errors.New("backlog: reservation lost")
	ErrWorkerRunning    = errors.New("backlog: worker already running")
	ErrInvalidConfig    = errors.New("backlog: invalid configuration")
	ErrDuplicateCron    = errors.New("backlog: duplicate cron entry")
	ErrUnsupportedCodec = errors.New("backlog: unsupported codec")
)
