// Package sqliteutil holds the SQLite plumbing shared by the queue and
// ledger stores: connection setup with the daemon's pragmas and retry
// handling for SQLITE_BUSY under concurrent writers.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyCode            = 5
	retryAttempts       = 5
	retryInitialBackoff = 10 * time.Millisecond
	retryMaxBackoff     = 200 * time.Millisecond
)

// Open connects to the database at path and applies the pragmas every
// store in the daemon runs with.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return db, nil
}

// IsBusy reports whether err is SQLite's busy/locked contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == busyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Retry runs op, retrying busy errors with a short capped backoff.
// Non-busy errors return immediately.
func Retry(ctx context.Context, op func() error) error {
	delay := retryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == retryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= retryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Exec runs an ExecContext with busy retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := Retry(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// NullableString converts empty strings to NULL for optional columns.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
