package unmark

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("unmark: no store configured")
	ErrMigrationFailed = errors.New("unmark: migration failed")

	// Not found errors.
	ErrTaskNotFound    = errors.New("unmark: task not found")
	ErrJobNotFound     = errors.New("unmark: job not found")
	ErrDLQNotFound     = errors.New("unmark: dlq entry not found")
	ErrAccountNotFound = errors.New("unmark: account not found")

	// Conflict errors.
	ErrTaskAlreadyExists = errors.New("unmark: task already exists")
	ErrJobAlreadyExists  = errors.New("unmark: job already exists")
	ErrDLQReplayed       = errors.New("unmark: dlq entry already replayed")

	// Configuration errors.
	ErrMissingConfig = errors.New("unmark: missing required configuration")
	ErrInvalidInput  = errors.New("unmark: invalid input")
)
