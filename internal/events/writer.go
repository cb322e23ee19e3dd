package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	HouseholdInit    = "household.init"
	ConfigUpdated    = "household.config_updated"
	SubjectCreated   = "subject.created"
	ItemCreated      = "item.created"
	ItemDone         = "item.done"
	ItemDeferred     = "item.deferred"
	ItemReset        = "item.reset"
	ItemRearmed      = "item.rearmed"
	NoticeToggled    = "notice.toggled"
	NoticeRecorded   = "notice.recorded"
	InventoryUpdated = "inventory.updated"
	PhotoAdded       = "photo.added"
	PhotoArchived    = "photo.archived"
	NoteAdded        = "note.added"
	RoleGranted      = "rbac.role_granted"
	RoleRevoked      = "rbac.role_revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx so it commits with the mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, householdID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,household_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(householdID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
