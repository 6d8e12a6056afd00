package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lifeline/internal/event"
	"lifeline/internal/sqliteutil"
)

// Get returns the record for a key, or ErrNoRecord when none exists.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE tx_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoRecord, key)
	}
	if err != nil {
		return nil, storageError("get transaction", err)
	}
	return rec, nil
}

// Create inserts a fresh pending record for a key. The caller must have
// checked that no record exists; a duplicate key is a storage error.
func (s *Store) Create(ctx context.Context, key string, recipients []event.Recipient, fee int64) (*Record, error) {
	encoded, err := encodeRecipients(recipients)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, r := range recipients {
		total += r.Amount
	}
	now := time.Now().UTC()

	if _, err := s.execWithRetry(ctx,
		`INSERT INTO transactions (tx_key, status, attempts, fee, recipients, total, created_at, updated_at)
         VALUES (?, ?, 0, ?, ?, ?, ?, ?)`,
		key, string(StatusPending), fee, encoded, total, formatTime(now), formatTime(now),
	); err != nil {
		return nil, storageError("insert transaction", err)
	}

	return &Record{
		Key:        key,
		Status:     StatusPending,
		Recipients: recipients,
		Total:      total,
		Fee:        fee,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// BeginAttempt persists the attempt ordinal and fee before the submission
// is sent, so a crash mid-submit leaves a record showing what was tried.
func (s *Store) BeginAttempt(ctx context.Context, key string, attempt int, fee int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE transactions SET attempts = ?, fee = ?, updated_at = ? WHERE tx_key = ?`,
		attempt, fee, formatTime(time.Now()), key,
	)
	if err != nil {
		return storageError("begin attempt", err)
	}
	return requireRow(res, key)
}

// LogAttempt appends one entry to the submission log. Failed outcomes also
// refresh the record's last_error.
func (s *Store) LogAttempt(ctx context.Context, entry Attempt) error {
	err := sqliteutil.Retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (tx_key, attempt, fee, outcome, detail, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			entry.Key, entry.Number, entry.Fee, entry.Outcome,
			sqliteutil.NullableString(entry.Detail), formatTime(time.Now()),
		); err != nil {
			return err
		}
		if entry.Outcome != AttemptSubmitted {
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions SET last_error = ?, updated_at = ? WHERE tx_key = ?`,
				sqliteutil.NullableString(entry.Detail), formatTime(time.Now()), entry.Key,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return storageError("log attempt", err)
	}
	return nil
}

// MarkSubmitted records network acceptance.
func (s *Store) MarkSubmitted(ctx context.Context, key, reference string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE transactions
         SET status = ?, reference = ?, last_error = NULL, submitted_at = ?, updated_at = ?
         WHERE tx_key = ?`,
		string(StatusSubmitted), reference, now, now, key,
	)
	if err != nil {
		return storageError("mark submitted", err)
	}
	return requireRow(res, key)
}

// MarkConfirmed records network finality and clears any attention flag.
func (s *Store) MarkConfirmed(ctx context.Context, key string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE transactions
         SET status = ?, needs_attention = 0, confirmed_at = ?, updated_at = ?
         WHERE tx_key = ?`,
		string(StatusConfirmed), now, now, key,
	)
	if err != nil {
		return storageError("mark confirmed", err)
	}
	return requireRow(res, key)
}

// MarkFailed records a permanent submission failure.
func (s *Store) MarkFailed(ctx context.Context, key, detail string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE transactions SET status = ?, last_error = ?, updated_at = ? WHERE tx_key = ?`,
		string(StatusFailed), sqliteutil.NullableString(detail), formatTime(time.Now()), key,
	)
	if err != nil {
		return storageError("mark failed", err)
	}
	return requireRow(res, key)
}

// MarkNeedsAttention flags a record for operator review. It reports whether
// the flag was newly set, so callers alert exactly once per record.
func (s *Store) MarkNeedsAttention(ctx context.Context, key string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE transactions SET needs_attention = 1, updated_at = ?
         WHERE tx_key = ? AND needs_attention = 0`,
		formatTime(time.Now()), key,
	)
	if err != nil {
		return false, storageError("mark needs attention", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageError("needs attention rows affected", err)
	}
	return affected > 0, nil
}

// ListByStatus returns records in a status, oldest update first. A
// non-positive limit returns everything.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE status = ? ORDER BY updated_at LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, storageError("list by status", err)
	}
	return collectRecords(rows)
}

// ListNeedsAttention returns every record flagged for operator review.
func (s *Store) ListNeedsAttention(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE needs_attention = 1 ORDER BY updated_at`)
	if err != nil {
		return nil, storageError("list needs attention", err)
	}
	return collectRecords(rows)
}

// List returns the most recently touched records. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageError("list transactions", err)
	}
	return collectRecords(rows)
}

// History returns the submission log for a key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx_key, attempt, fee, outcome, detail, created_at
         FROM attempts WHERE tx_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, storageError("transaction history", err)
	}
	defer rows.Close()

	var entries []Attempt
	for rows.Next() {
		var (
			entry  Attempt
			detail sql.NullString
			at     string
		)
		if err := rows.Scan(&entry.Key, &entry.Number, &entry.Fee, &entry.Outcome, &detail, &at); err != nil {
			return nil, storageError("scan attempt", err)
		}
		entry.Detail = detail.String
		if entry.At, err = parseTime(at); err != nil {
			return nil, storageError("parse attempt time", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate attempts", err)
	}
	return entries, nil
}

// Stats aggregates record counts by status plus the attention backlog.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1), COALESCE(SUM(total), 0) FROM transactions GROUP BY status`)
	if err != nil {
		return stats, storageError("ledger stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			amount float64
		)
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return stats, storageError("scan stats row", err)
		}
		stats.ByStatus[Status(status)] = count
		stats.TotalAmount += amount
	}
	if err := rows.Err(); err != nil {
		return stats, storageError("iterate stats rows", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transactions WHERE needs_attention = 1`,
	).Scan(&stats.NeedsAttention); err != nil {
		return stats, storageError("count needs attention", err)
	}
	return stats, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageError("scan transaction", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate transactions", err)
	}
	return records, nil
}

func requireRow(res sql.Result, key string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoRecord, key)
	}
	return nil
}
