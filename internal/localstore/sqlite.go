package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"crattend/internal/model"
)

// SQLite keeps scalars and submissions in a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and creates the schema if needed.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scalars (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id            TEXT PRIMARY KEY,
		payload       TEXT NOT NULL,
		submitted_at  DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Get returns the scalar stored under key.
func (s *SQLite) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM scalars WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set stores value under key.
func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO scalars (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// PutRecord upserts a submission by id.
func (s *SQLite) PutRecord(ctx context.Context, rec model.Submission) error {
	if rec.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, payload, submitted_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, submitted_at = excluded.submitted_at`,
		rec.ID, string(payload), rec.SubmittedAt.UTC(),
	)
	return err
}

// GetRecord fetches a submission by id.
func (s *SQLite) GetRecord(ctx context.Context, id string) (model.Submission, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM submissions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, ErrNotFound
	}
	if err != nil {
		return model.Submission{}, err
	}
	var rec model.Submission
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return model.Submission{}, fmt.Errorf("unmarshal submission: %w", err)
	}
	return rec, nil
}
