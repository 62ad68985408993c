// Package store implements the persisted metadata layer backing the
// Review State Machine: change requests, promotion requests, the audit
// log, and the dependency/consumer registry, on modernc.org/sqlite (pure
// Go, no cgo) via database/sql — the same driver family as BeadsLog's
// issue store, migrated with the same named, ordered, idempotent
// Migration list pattern.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the metadata database handle shared by the Review State
// Machine, the audit sink, and the dependency registry.
type Store struct {
	DB *sql.DB
}

// Open creates the parent directory if needed, opens path with the pure
// Go sqlite driver, enables foreign keys, and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is a single-process, single-writer driver

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
