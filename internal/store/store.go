// Package store is the Postgres persistence layer for the dispatch
// pipeline. All SQL lives here; services and workers depend on the
// Store's methods, never on raw queries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/postwave/postwave/internal/config"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateAttempt is returned when a delivery attempt already
	// exists for a (schedule, contact) pair.
	ErrDuplicateAttempt = errors.New("store: duplicate delivery attempt")
	// ErrConflict is returned when a guarded status transition matched
	// no rows, meaning another writer got there first.
	ErrConflict = errors.New("store: conflicting state transition")
)

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// New wraps an existing handle, used directly by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the segment resolver's query
// builder and for advisory locks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}
