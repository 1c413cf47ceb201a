// Package history keeps a local log of past invocations in a sqlite
// database under the config directory.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mzahmed/gemweb/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    model TEXT NOT NULL,
    operation TEXT NOT NULL,
    output_path TEXT,
    image_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at);
`

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(filepath.Join(dir, "history.db"))
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add records one invocation, assigning an ID and timestamp when unset.
func (s *Store) Add(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, prompt, model, operation, output_path, image_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Prompt, rec.Model, rec.Operation,
		nullString(rec.OutputPath), rec.ImageCount, rec.Timestamp)
	return err
}

// List returns the most recent invocations, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, model, operation, output_path, image_count, created_at
		 FROM invocations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var outputPath sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Model, &rec.Operation,
			&outputPath, &rec.ImageCount, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.OutputPath = outputPath.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the total number of recorded invocations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&count)
	return count, err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
