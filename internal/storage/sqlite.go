package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/eventstore/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

func (s *Storage) initSQLite(ctx context.Context) error {
	if s.config.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required")
	}

	if dir := filepath.Dir(s.config.SQLitePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	backend := &sqlite3.SQLite3Backend{
		DatabaseURL: s.config.SQLitePath,
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	s.store = backend
	s.db = backend.DB

	// Run migrations for custom tables
	if err := s.runMigrations(ctx); err != nil {
		backend.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *Storage) initMemory() error {
	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		return err
	}
	s.store = store
	return nil
}

func (s *Storage) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}
