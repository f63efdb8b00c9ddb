// Package sessionstore persists playback resume positions in SQLite so a
// reopened source can continue where it left off.
package sessionstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDBPath is the default path for the session database.
	DefaultDBPath = "data/session.db"

	// maxEntries bounds the table; the least recently updated rows are
	// pruned past this count.
	maxEntries = 500
)

// Store is the SQLite-backed resume-position store. database/sql handles
// its own locking; one writer connection is enough for this workload.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a store instance. Call Open before use.
func New(path string) *Store {
	if path == "" {
		path = DefaultDBPath
	}
	return &Store{path: path}
}

// Open opens the database and initializes the schema.
func (s *Store) Open() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	schema := `
	CREATE TABLE IF NOT EXISTS resume_positions (
		uri TEXT PRIMARY KEY,
		position_ns INTEGER NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_resume_updated ON resume_positions(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	log.Info().Str("path", s.path).Msg("Session database opened")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Load returns the stored position for uri, zero when none is known.
func (s *Store) Load(uri string) (time.Duration, error) {
	var ns int64
	err := s.db.QueryRow(
		"SELECT position_ns FROM resume_positions WHERE uri = ?", uri,
	).Scan(&ns)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load resume position: %w", err)
	}
	return time.Duration(ns), nil
}

// Save stores the position for uri, replacing any previous value, and
// prunes the table to its bounded size.
func (s *Store) Save(uri string, pos time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO resume_positions (uri, position_ns, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(uri) DO UPDATE SET
			position_ns = excluded.position_ns,
			updated_at = CURRENT_TIMESTAMP`,
		uri, int64(pos),
	)
	if err != nil {
		return fmt.Errorf("failed to save resume position: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM resume_positions WHERE uri NOT IN (
			SELECT uri FROM resume_positions
			ORDER BY updated_at DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return fmt.Errorf("failed to prune resume positions: %w", err)
	}
	return nil
}

// Forget removes the stored position for uri.
func (s *Store) Forget(uri string) error {
	if _, err := s.db.Exec("DELETE FROM resume_positions WHERE uri = ?", uri); err != nil {
		return fmt.Errorf("failed to delete resume position: %w", err)
	}
	return nil
}
