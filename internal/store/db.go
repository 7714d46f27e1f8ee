package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Migrate creates the attendance schema if it is missing.
func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rosters (
		course_id   BIGINT      NOT NULL,
		section     TEXT        NOT NULL,
		course      TEXT        NOT NULL DEFAULT '',
		pushed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		students    JSONB       NOT NULL DEFAULT '[]',
		PRIMARY KEY (course_id, section)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id            TEXT PRIMARY KEY,
		receipt_id    UUID        NOT NULL,
		course_id     BIGINT      NOT NULL,
		section       TEXT        NOT NULL,
		session_date  DATE        NOT NULL,
		payload       JSONB       NOT NULL,
		status        TEXT        NOT NULL DEFAULT 'pending',
		received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at  TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS attendance_marks (
		submission_id  TEXT    NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
		reg            TEXT    NOT NULL,
		name           TEXT    NOT NULL DEFAULT '',
		present        BOOLEAN NOT NULL,
		PRIMARY KEY (submission_id, reg)
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_course ON submissions(course_id, section, session_date);
	CREATE INDEX IF NOT EXISTS idx_rosters_pushed     ON rosters(pushed_at DESC);
	`
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
