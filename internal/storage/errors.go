package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
)

// Sentinel errors shared by the repositories and the engine facade.
var (
	// ErrNotFound indicates the requested card, set or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation, such as inserting an
	// already present card id.
	ErrConflict = errors.New("conflict")

	// ErrGroupExists indicates a tag or want list with the same name exists.
	ErrGroupExists = fmt.Errorf("group already exists: %w", ErrConflict)

	// ErrStorageUnavailable indicates the storage engine failed (I/O, lock contention).
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SQLite primary result codes.
const (
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteConstraint = 19
)

// sqliteCode returns the primary SQLite result code of err, or 0.
func sqliteCode(err error) int {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() & 0xff
	}
	return 0
}

// IsConstraintError reports whether err is a SQLite constraint violation.
func IsConstraintError(err error) bool {
	return sqliteCode(err) == sqliteConstraint
}

// IsBusyError reports whether err is a SQLite busy or locked error.
func IsBusyError(err error) bool {
	code := sqliteCode(err)
	return code == sqliteBusy || code == sqliteLocked
}

// Translate maps a driver error onto the package sentinels. Errors that
// already carry a sentinel are returned unchanged.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStorageUnavailable):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case IsConstraintError(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}
