package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"crattend/internal/model"
)

// Repository persists rosters and submissions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertRoster replaces the roster of a course section.
func (r *Repository) UpsertRoster(ctx context.Context, roster model.Roster) error {
	students, err := json.Marshal(roster.Students)
	if err != nil {
		return fmt.Errorf("marshal students: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rosters (course_id, section, course, pushed_at, students)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (course_id, section) DO UPDATE SET
			course = EXCLUDED.course,
			pushed_at = EXCLUDED.pushed_at,
			students = EXCLUDED.students
	`, roster.CourseID, roster.Section, roster.Course, roster.PushedAt, string(students))
	return err
}

// LatestRoster returns the most recently pushed roster matching the filters.
// Zero values match anything.
func (r *Repository) LatestRoster(ctx context.Context, courseID int64, section string) (*model.Roster, error) {
	query := `SELECT course_id, section, course, pushed_at, students FROM rosters`
	args := []any{}
	clauses := []string{}
	if courseID != 0 {
		clauses = append(clauses, "course_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, courseID)
	}
	if section != "" {
		clauses = append(clauses, "section = $"+strconv.Itoa(len(args)+1))
		args = append(args, section)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY pushed_at DESC LIMIT 1"

	var (
		roster   model.Roster
		students []byte
	)
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&roster.CourseID, &roster.Section, &roster.Course, &roster.PushedAt, &students)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(students, &roster.Students); err != nil {
		return nil, fmt.Errorf("unmarshal students: %w", err)
	}
	return &roster, nil
}

// UpsertSubmission stores a submission, replacing any record with the same id
// and resetting it to pending.
func (r *Repository) UpsertSubmission(ctx context.Context, sub model.Submission, receiptID string) (Entry, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal submission: %w", err)
	}
	entry := Entry{ID: sub.ID, ReceiptID: receiptID, Status: StatusPending, Submission: sub}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO submissions (id, receipt_id, course_id, section, session_date, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (id) DO UPDATE SET
			receipt_id = EXCLUDED.receipt_id,
			payload = EXCLUDED.payload,
			status = 'pending',
			received_at = NOW(),
			processed_at = NULL
		RETURNING received_at
	`, sub.ID, receiptID, sub.CourseValue, sub.Section, sub.Date, string(payload))
	if err := row.Scan(&entry.ReceivedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// GetSubmission returns a single submission by id.
func (r *Repository) GetSubmission(ctx context.Context, id string) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, receipt_id, status, received_at, processed_at, payload
		FROM submissions WHERE id = $1
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// ListSubmissions returns submissions with basic filters, newest first.
func (r *Repository) ListSubmissions(ctx context.Context, f Filter) ([]Entry, error) {
	f = f.normalize()
	query := `SELECT id, receipt_id, status, received_at, processed_at, payload FROM submissions`
	args := []any{}
	clauses := []string{}
	if f.CourseID != 0 {
		clauses = append(clauses, "course_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.CourseID)
	}
	if f.Section != "" {
		clauses = append(clauses, "section = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Section)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, rows.Err()
}

// ReplaceMarks rewrites the per-student rows of a submission in one transaction.
func (r *Repository) ReplaceMarks(ctx context.Context, id string, students []model.SubmittedStudent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_marks WHERE submission_id = $1`, id); err != nil {
		return err
	}
	for _, st := range students {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_marks (submission_id, reg, name, present)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (submission_id, reg) DO UPDATE SET name = EXCLUDED.name, present = EXCLUDED.present
		`, id, st.Reg, st.Name, st.Present); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateSubmissionStatus records the processing outcome.
func (r *Repository) UpdateSubmissionStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE submissions SET status = $2, processed_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry     Entry
		processed sql.NullTime
		payload   []byte
	)
	if err := row.Scan(&entry.ID, &entry.ReceiptID, &entry.Status, &entry.ReceivedAt, &processed, &payload); err != nil {
		return Entry{}, err
	}
	if processed.Valid {
		t := processed.Time
		entry.ProcessedAt = &t
	}
	if err := json.Unmarshal(payload, &entry.Submission); err != nil {
		return Entry{}, fmt.Errorf("unmarshal submission: %w", err)
	}
	return entry, nil
}
