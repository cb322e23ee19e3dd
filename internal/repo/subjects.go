package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"petcare/internal/domain"
)

func (r Repo) InsertSubjectTx(ctx context.Context, tx *sql.Tx, s domain.Subject) error {
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO subjects(id,household_id,name,species,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.HouseholdID, s.Name, nullable(s.Species), s.CreatedAt)
	return conflict(err, "subject "+s.ID)
}

// SeedSubjectsTx inserts subjects that do not exist yet and refreshes the
// name and species of those that do.
func (r Repo) SeedSubjectsTx(ctx context.Context, tx *sql.Tx, subjects []domain.Subject) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, s := range subjects {
		if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO subjects(id,household_id,name,species,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(household_id,id) DO UPDATE SET name=excluded.name, species=excluded.species`,
			s.ID, s.HouseholdID, s.Name, nullable(s.Species), now); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetSubject(ctx context.Context, householdID, id string) (domain.Subject, error) {
	var s domain.Subject
	err := r.DB.QueryRowContext(ctx, `SELECT id,household_id,name,COALESCE(species,''),created_at FROM subjects WHERE household_id=? AND id=?`,
		householdID, id).Scan(&s.ID, &s.HouseholdID, &s.Name, &s.Species, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// ListSubjects returns the household roster in creation order.
func (r Repo) ListSubjects(ctx context.Context, householdID string) ([]domain.Subject, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,household_id,name,COALESCE(species,''),created_at FROM subjects WHERE household_id=? ORDER BY created_at, id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subject
	for rows.Next() {
		var s domain.Subject
		if err := rows.Scan(&s.ID, &s.HouseholdID, &s.Name, &s.Species, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
