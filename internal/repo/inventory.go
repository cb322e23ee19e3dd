package repo

import (
	"context"
	"database/sql"
	"errors"

	"petcare/internal/domain"
)

const inventoryColumns = `id,household_id,COALESCE(subject_id,''),label,remaining_days,remaining_days_max,COALESCE(last_action,''),updated_at`

func (r Repo) UpsertInventoryTx(ctx context.Context, tx *sql.Tx, it domain.InventoryItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO inventory(id,household_id,subject_id,label,remaining_days,remaining_days_max,last_action,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(household_id,id) DO UPDATE SET subject_id=excluded.subject_id, label=excluded.label, remaining_days=excluded.remaining_days,
remaining_days_max=excluded.remaining_days_max, last_action=excluded.last_action, updated_at=excluded.updated_at`,
		it.ID, it.HouseholdID, nullable(it.SubjectID), it.Label, it.RemainingDays, nullableFloat(it.RemainingDaysMax), nullable(it.LastAction), formatTime(it.UpdatedAt))
	return err
}

func (r Repo) GetInventoryTx(ctx context.Context, tx *sql.Tx, householdID, id string) (domain.InventoryItem, error) {
	it, err := scanInventory(r.q(tx).QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE household_id=? AND id=?`, householdID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListInventory(ctx context.Context, householdID string) ([]domain.InventoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE household_id=? ORDER BY id`, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryItem
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func scanInventory(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	var upper sql.NullFloat64
	var updatedAt string
	if err := row.Scan(&it.ID, &it.HouseholdID, &it.SubjectID, &it.Label, &it.RemainingDays, &upper, &it.LastAction, &updatedAt); err != nil {
		return it, err
	}
	if upper.Valid {
		v := upper.Float64
		it.RemainingDaysMax = &v
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return it, err
	}
	it.UpdatedAt = t
	return it, nil
}
