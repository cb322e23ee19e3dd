package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"petcare/internal/config"
	"petcare/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// conflict maps SQLite unique violations onto ErrConflict.
func conflict(err error, what string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const householdColumns = `id,COALESCE(name,''),timezone,status,COALESCE(description,''),created_at`

func scanHousehold(row interface{ Scan(...any) error }) (domain.Household, error) {
	var h domain.Household
	err := row.Scan(&h.ID, &h.Name, &h.Timezone, &h.Status, &h.Description, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	return h, err
}

func (r Repo) InsertHouseholdTx(ctx context.Context, tx *sql.Tx, h domain.Household) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO households(id,name,timezone,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		h.ID, nullable(h.Name), h.Timezone, h.Status, nullable(h.Description), h.CreatedAt)
	return conflict(err, "household "+h.ID)
}

func (r Repo) GetHousehold(ctx context.Context, id string) (domain.Household, error) {
	return scanHousehold(r.DB.QueryRowContext(ctx, `SELECT `+householdColumns+` FROM households WHERE id=?`, id))
}

// SingleHousehold returns the only household in the workspace.
func (r Repo) SingleHousehold(ctx context.Context) (domain.Household, error) {
	items, err := r.ListHouseholds(ctx)
	if err != nil {
		return domain.Household{}, err
	}
	if len(items) == 0 {
		return domain.Household{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Household{}, fmt.Errorf("multiple households exist; specify --household")
	}
	return items[0], nil
}

func (r Repo) ListHouseholds(ctx context.Context) ([]domain.Household, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+householdColumns+` FROM households ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) UpsertHouseholdConfig(ctx context.Context, householdID string, cfg *config.Config) error {
	return r.UpsertHouseholdConfigTx(ctx, nil, householdID, cfg)
}

// UpsertHouseholdConfigTx validates and stores cfg as JSON, and mirrors the
// name and time zone onto the household row.
func (r Repo) UpsertHouseholdConfigTx(ctx context.Context, tx *sql.Tx, householdID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Household.ID = householdID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	db := r.q(tx)
	if _, err := db.ExecContext(ctx, `INSERT INTO household_configs(household_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(household_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, householdID, string(payload), now, now); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `UPDATE households SET timezone=?, name=COALESCE(?,name) WHERE id=?`,
		cfg.Household.Timezone, nullable(cfg.Household.Name), householdID)
	return err
}

func (r Repo) GetHouseholdConfig(ctx context.Context, householdID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM household_configs WHERE household_id=?`, householdID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Household.ID == "" {
		cfg.Household.ID = householdID
	}
	return &cfg, cfg.Validate()
}

// EventFilters narrows LatestEvents. Cursor is exclusive; zero means newest.
type EventFilters struct {
	HouseholdID string
	Type        string
	EntityKind  string
	EntityID    string
	Cursor      int64
	Limit       int
}

const eventColumns = `id,ts,type,COALESCE(household_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.HouseholdID != "" {
		clauses = append(clauses, "household_id=?")
		args = append(args, f.HouseholdID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, householdID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE household_id=? AND id>? ORDER BY id ASC LIMIT ?`, eventColumns)
	return r.queryEvents(ctx, query, householdID, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.HouseholdID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a household.
func (r Repo) LatestEventID(ctx context.Context, householdID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE household_id=?`, householdID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// storedTime is fixed width so stored instants sort lexically.
const storedTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalStrings(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
