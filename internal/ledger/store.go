package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/services"
	"lifeline/internal/sqliteutil"
)

// ErrStorageUnavailable marks store failures caused by the backing
// database rather than by the record or the caller.
var ErrStorageUnavailable = errors.New("ledger storage unavailable")

// ErrNoRecord is returned when no transaction exists for a key.
var ErrNoRecord = errors.New("no transaction record")

func storageError(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, operation, err)
}

// Store persists transaction records and their submission log in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.LedgerDBPath())
}

// OpenPath opens a ledger database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sqliteutil.Open(dbPath)
	if err != nil {
		return nil, storageError("open ledger database", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CheckHealth verifies the database is reachable and readable.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.db == nil {
		return storageError("check health", errors.New("database connection unavailable"))
	}
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		return storageError("ping ledger database", err)
	}
	var count int
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM transactions").Scan(&count); err != nil {
		return storageError("count transactions", err)
	}
	return nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sqliteutil.Exec(ctx, s.db, query, args...)
}

const recordColumns = `tx_key, status, attempts, fee, reference, recipients, total,
    last_error, needs_attention, created_at, updated_at, submitted_at, confirmed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec            Record
		status         string
		reference      sql.NullString
		recipientsJSON string
		lastError      sql.NullString
		attention      int
		createdAt      string
		updatedAt      string
		submittedAt    sql.NullString
		confirmedAt    sql.NullString
	)
	err := row.Scan(
		&rec.Key,
		&status,
		&rec.Attempts,
		&rec.Fee,
		&reference,
		&recipientsJSON,
		&rec.Total,
		&lastError,
		&attention,
		&createdAt,
		&updatedAt,
		&submittedAt,
		&confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Reference = reference.String
	rec.LastError = lastError.String
	rec.NeedsAttention = attention != 0
	if err := json.Unmarshal([]byte(recipientsJSON), &rec.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if submittedAt.Valid {
		if rec.SubmittedAt, err = parseTime(submittedAt.String); err != nil {
			return nil, fmt.Errorf("parse submitted_at: %w", err)
		}
	}
	if confirmedAt.Valid {
		if rec.ConfirmedAt, err = parseTime(confirmedAt.String); err != nil {
			return nil, fmt.Errorf("parse confirmed_at: %w", err)
		}
	}
	return &rec, nil
}

func encodeRecipients(recipients []event.Recipient) (string, error) {
	data, err := json.Marshal(recipients)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "ledger", "encode", "marshal recipients", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
