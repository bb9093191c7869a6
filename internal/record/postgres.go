package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PostgresStore persists person records in Postgres for self-hosted
// deployments that do not use the hosted tabular API.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a store and ensures the schema exists.
func NewPostgres(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS applicants (
			id             TEXT PRIMARY KEY,
			applicant_name TEXT NOT NULL,
			year           TEXT NOT NULL DEFAULT '',
			email          TEXT NOT NULL DEFAULT '',
			photo_url      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT '',
			attendance     JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_applicants_name ON applicants (LOWER(applicant_name));
	`)
	return err
}

const applicantColumns = "id, applicant_name, year, email, photo_url, status, attendance"

// Query returns records matching f in creation order.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := "SELECT " + applicantColumns + " FROM applicants"
	args := []any{}
	clauses := []string{}
	if f.Name != "" {
		clauses = append(clauses, fmt.Sprintf("LOWER(applicant_name) = LOWER($%d)", len(args)+1))
		args = append(args, f.Name)
	}
	if f.Year != "" {
		clauses = append(clauses, fmt.Sprintf("year = $%d", len(args)+1))
		args = append(args, f.Year)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"
	if f.Max > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Max)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Create inserts a new record, assigning an id when absent.
func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	attendance, err := json.Marshal(orEmpty(rec.Attendance))
	if err != nil {
		return Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applicants (id, applicant_name, year, email, photo_url, status, attendance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Name, rec.Year, rec.Email, rec.PhotoURL, rec.Status, attendance)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update patches only the fields named in u and returns the new row.
func (s *PostgresStore) Update(ctx context.Context, id string, u Update) (Record, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if u.PhotoURL != nil {
		current.PhotoURL = *u.PhotoURL
	}
	if u.Year != nil {
		current.Year = *u.Year
	}
	if u.Email != nil {
		current.Email = *u.Email
	}
	if len(u.Attendance) > 0 {
		if current.Attendance == nil {
			current.Attendance = make(map[string]bool)
		}
		for occ, present := range u.Attendance {
			current.Attendance[occ] = present
		}
	}
	attendance, err := json.Marshal(orEmpty(current.Attendance))
	if err != nil {
		return Record{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE applicants
		SET year = $2, email = $3, photo_url = $4, attendance = $5, updated_at = NOW()
		WHERE id = $1
	`, id, current.Year, current.Email, current.PhotoURL, attendance)
	if err != nil {
		return Record{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Record{}, ErrNotFound
	}
	return current, nil
}

// Get returns a single record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+applicantColumns+" FROM applicants WHERE id = $1", id)
	rec, err := scanApplicant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplicant(row rowScanner) (Record, error) {
	var rec Record
	var attendance []byte
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Year, &rec.Email, &rec.PhotoURL, &rec.Status, &attendance); err != nil {
		return Record{}, err
	}
	if len(attendance) > 0 {
		if err := json.Unmarshal(attendance, &rec.Attendance); err != nil {
			return Record{}, fmt.Errorf("decode attendance: %w", err)
		}
	}
	return rec, nil
}

func orEmpty(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
