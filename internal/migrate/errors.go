package migrate

import "errors"

// Domain errors for the migrate package.
var (
	// ErrDuplicateVersion is returned when two up files share a version.
	ErrDuplicateVersion = errors.New("migrate: duplicate migration version")

	// ErrModified is returned when an applied migration's file no longer
	// matches the checksum recorded when it ran.
	ErrModified = errors.New("migrate: applied migration was modified")

	// ErrMissing is returned by Down when the latest applied migration has
	// no file.
	ErrMissing = errors.New("migrate: applied migration not found")

	// ErrNoDownSQL is returned by Down for a migration without a down file.
	ErrNoDownSQL = errors.New("migrate: migration has no down SQL")
)
