package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"petcare/internal/domain"
)

const itemColumns = `id,household_id,COALESCE(subject_id,''),kind,title,COALESCE(cadence,''),COALESCE(slot,''),due_at,done,later,optional,done_at,deferred_at,
COALESCE(notice_kind,''),enabled,choices_json,seasonal,COALESCE(season,''),COALESCE(last_value,''),recorded_at,created_at,updated_at`

// ItemFilters narrows ListItems. Empty fields match everything.
type ItemFilters struct {
	HouseholdID string
	SubjectID   string
	Kind        domain.ItemKind
	PendingOnly bool
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.TrackedItem) error {
	choices, err := marshalStrings(it.Choices)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO items(id,household_id,subject_id,kind,title,cadence,slot,due_at,done,later,optional,done_at,deferred_at,
notice_kind,enabled,choices_json,seasonal,season,last_value,recorded_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.HouseholdID, nullable(it.SubjectID), string(it.Kind), it.Title, nullable(string(it.Cadence)), nullable(string(it.Slot)),
		nullableTime(it.DueAt), boolInt(it.Done), boolInt(it.Later), boolInt(it.Optional), nullableTime(it.DoneAt), nullableTime(it.DeferredAt),
		nullable(string(it.NoticeKind)), boolInt(it.Enabled), choices, boolInt(it.Seasonal), nullable(string(it.Season)),
		nullable(it.LastValue), nullableTime(it.RecordedAt), formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	return conflict(err, "item "+it.ID)
}

// UpdateItemStateTx persists the mutable lifecycle fields of it.
func (r Repo) UpdateItemStateTx(ctx context.Context, tx *sql.Tx, it domain.TrackedItem) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE items SET due_at=?, done=?, later=?, done_at=?, deferred_at=?, enabled=?, last_value=?, recorded_at=?, updated_at=?
WHERE id=? AND household_id=?`,
		nullableTime(it.DueAt), boolInt(it.Done), boolInt(it.Later), nullableTime(it.DoneAt), nullableTime(it.DeferredAt),
		boolInt(it.Enabled), nullable(it.LastValue), nullableTime(it.RecordedAt), formatTime(it.UpdatedAt), it.ID, it.HouseholdID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, householdID, id string) (domain.TrackedItem, error) {
	return r.GetItemTx(ctx, nil, householdID, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, householdID, id string) (domain.TrackedItem, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE household_id=? AND id=?`, householdID, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.TrackedItem, error) {
	return r.ListItemsTx(ctx, nil, f)
}

func (r Repo) ListItemsTx(ctx context.Context, tx *sql.Tx, f ItemFilters) ([]domain.TrackedItem, error) {
	clauses := []string{"household_id=?"}
	args := []any{f.HouseholdID}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, f.SubjectID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.PendingOnly {
		clauses = append(clauses, "done=0 AND later=0")
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, id`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func scanItem(row interface{ Scan(...any) error }) (domain.TrackedItem, error) {
	var (
		it                                    domain.TrackedItem
		kind, cadence, slot, noticeKind       string
		season                                string
		dueAt, doneAt, deferredAt, recordedAt sql.NullString
		choices                               sql.NullString
		done, later, optional, enabled        int
		seasonal                              int
		createdAt, updatedAt                  string
	)
	err := row.Scan(&it.ID, &it.HouseholdID, &it.SubjectID, &kind, &it.Title, &cadence, &slot, &dueAt, &done, &later, &optional, &doneAt, &deferredAt,
		&noticeKind, &enabled, &choices, &seasonal, &season, &it.LastValue, &recordedAt, &createdAt, &updatedAt)
	if err != nil {
		return it, err
	}
	it.Kind = domain.ItemKind(kind)
	it.Cadence = domain.Cadence(cadence)
	it.Slot = domain.TimeSlot(slot)
	it.NoticeKind = domain.NoticeKind(noticeKind)
	it.Season = domain.Season(season)
	it.Done, it.Later, it.Optional = done == 1, later == 1, optional == 1
	it.Enabled, it.Seasonal = enabled == 1, seasonal == 1
	if it.Choices, err = unmarshalStrings(choices); err != nil {
		return it, err
	}
	if it.DueAt, err = parseNullTime(dueAt); err != nil {
		return it, err
	}
	if it.DoneAt, err = parseNullTime(doneAt); err != nil {
		return it, err
	}
	if it.DeferredAt, err = parseNullTime(deferredAt); err != nil {
		return it, err
	}
	if it.RecordedAt, err = parseNullTime(recordedAt); err != nil {
		return it, err
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return it, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return it, err
	}
	return it, nil
}
