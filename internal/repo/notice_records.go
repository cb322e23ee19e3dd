package repo

import (
	"context"
	"database/sql"
	"time"

	"petcare/internal/domain"
)

func (r Repo) InsertNoticeRecordTx(ctx context.Context, tx *sql.Tx, rec domain.NoticeRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notice_records(id,household_id,notice_id,subject_id,value,recorded_at,actor_id) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.HouseholdID, rec.NoticeID, nullable(rec.SubjectID), rec.Value, formatTime(rec.RecordedAt), nullable(rec.ActorID))
	return err
}

// ListNoticeRecords returns records recorded at or after since, newest first.
// A zero since returns the full history.
func (r Repo) ListNoticeRecords(ctx context.Context, householdID string, since time.Time) ([]domain.NoticeRecord, error) {
	query := `SELECT id,household_id,notice_id,COALESCE(subject_id,''),value,recorded_at,COALESCE(actor_id,'') FROM notice_records WHERE household_id=?`
	args := []any{householdID}
	if !since.IsZero() {
		query += ` AND recorded_at>=?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY recorded_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NoticeRecord
	for rows.Next() {
		var rec domain.NoticeRecord
		var recordedAt string
		if err := rows.Scan(&rec.ID, &rec.HouseholdID, &rec.NoticeID, &rec.SubjectID, &rec.Value, &recordedAt, &rec.ActorID); err != nil {
			return nil, err
		}
		if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
