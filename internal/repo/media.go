package repo

import (
	"context"
	"database/sql"
	"time"

	"petcare/internal/domain"
)

func (r Repo) InsertPhotoTx(ctx context.Context, tx *sql.Tx, p domain.Photo) error {
	tags, err := marshalStrings(p.Tags)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO photos(id,household_id,subject_id,caption,tags_json,archived,taken_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.HouseholdID, nullable(p.SubjectID), nullable(p.Caption), tags, boolInt(p.Archived), formatTime(p.TakenAt))
	return conflict(err, "photo "+p.ID)
}

func (r Repo) ArchivePhotoTx(ctx context.Context, tx *sql.Tx, householdID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE photos SET archived=1 WHERE household_id=? AND id=?`, householdID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPhotos returns photos taken at or after since, newest first.
func (r Repo) ListPhotos(ctx context.Context, householdID string, since time.Time) ([]domain.Photo, error) {
	query := `SELECT id,household_id,COALESCE(subject_id,''),COALESCE(caption,''),tags_json,archived,taken_at FROM photos WHERE household_id=?`
	args := []any{householdID}
	if !since.IsZero() {
		query += ` AND taken_at>=?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY taken_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Photo
	for rows.Next() {
		var (
			p        domain.Photo
			tags     sql.NullString
			archived int
			takenAt  string
		)
		if err := rows.Scan(&p.ID, &p.HouseholdID, &p.SubjectID, &p.Caption, &tags, &archived, &takenAt); err != nil {
			return nil, err
		}
		p.Archived = archived == 1
		if p.Tags, err = unmarshalStrings(tags); err != nil {
			return nil, err
		}
		if p.TakenAt, err = parseTime(takenAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertNoteTx(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notes(id,household_id,subject_id,body,shared,author_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.HouseholdID, nullable(n.SubjectID), n.Body, boolInt(n.Shared), nullable(n.AuthorID), formatTime(n.CreatedAt))
	return err
}

// ListNotes returns up to limit notes, newest first. sharedOnly drops
// private notes; limit <= 0 means no limit.
func (r Repo) ListNotes(ctx context.Context, householdID string, sharedOnly bool, limit int) ([]domain.Note, error) {
	query := `SELECT id,household_id,COALESCE(subject_id,''),body,shared,COALESCE(author_id,''),created_at FROM notes WHERE household_id=?`
	args := []any{householdID}
	if sharedOnly {
		query += ` AND shared=1`
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		var (
			n         domain.Note
			shared    int
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.HouseholdID, &n.SubjectID, &n.Body, &shared, &n.AuthorID, &createdAt); err != nil {
			return nil, err
		}
		n.Shared = shared == 1
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
