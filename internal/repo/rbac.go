package repo

import (
	"context"
	"database/sql"
	"sort"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// SyncRolePermissionsTx replaces the household's role table with roles.
func (r Repo) SyncRolePermissionsTx(ctx context.Context, tx *sql.Tx, householdID string, roles map[string][]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE household_id=?`, householdID); err != nil {
		return err
	}
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, roleID := range ids {
		for _, perm := range roles[roleID] {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(household_id, role_id, permission_id) VALUES (?,?,?)`,
				householdID, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, householdID, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(household_id, actor_id, role_id) VALUES (?,?,?)`, householdID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, householdID, actorID, roleID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE household_id=? AND actor_id=? AND role_id=?`, householdID, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRoleHolders reports how many actors hold roleID in the household.
func (r Repo) CountRoleHolders(ctx context.Context, tx *sql.Tx, householdID, roleID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM actor_roles WHERE household_id=? AND role_id=?`, householdID, roleID).Scan(&n)
	return n, err
}
