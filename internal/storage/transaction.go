package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TxFunc is a function that runs within a transaction.
type TxFunc func(*sql.Tx) error

// WithTransaction executes the given function within a database transaction.
// It automatically commits on success or rolls back on error.
// If the function panics, the transaction is rolled back and the panic is re-raised.
func (db *DB) WithTransaction(ctx context.Context, fn TxFunc) error {
	return WithTx(ctx, db.conn, fn)
}

// WithTx is WithTransaction for callers that only hold a *sql.DB, such as
// the repositories.
func WithTx(ctx context.Context, conn *sql.DB, fn TxFunc) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
			}
		} else {
			err = tx.Commit()
			if err != nil {
				err = fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
	}()

	err = fn(tx)
	return err
}

const (
	busyRetries = 3
	busyBackoff = 50 * time.Millisecond
)

// RetryOnBusy runs fn again when SQLite reports the database as busy or
// locked, backing off between attempts.
func RetryOnBusy(fn func() error) error {
	backoff := busyBackoff
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !IsBusyError(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
