package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/sqliteutil"
)

// Store implements Broker on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sqliteutil.Exec(ctx, s.db, query, args...)
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDBPath())
}

// OpenPath opens a queue database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sqliteutil.Open(dbPath)
	if err != nil {
		return nil, storageError("open queue database", err)
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
		return storageError("ping queue database", err)
	}
	var count int
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM messages").Scan(&count); err != nil {
		return storageError("count messages", err)
	}
	return nil
}
