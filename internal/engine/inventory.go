package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"petcare/internal/care"
	"petcare/internal/domain"
	"petcare/internal/events"
	"petcare/internal/repo"
)

// InventoryInput sets a consumable's estimate. RemainingMax is optional.
type InventoryInput struct {
	ID           string
	SubjectID    string
	Label        string
	Remaining    float64
	RemainingMax *float64
	Action       string
}

// InventoryView is an inventory item with its derived tier.
type InventoryView struct {
	domain.InventoryItem
	Tier care.Tier `json:"tier" enum:"danger,warn,soon,ok"`
}

func (e Engine) UpsertInventory(ctx context.Context, in InventoryInput, actorID string) (InventoryView, error) {
	hid, err := e.householdID()
	if err != nil {
		return InventoryView{}, err
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return InventoryView{}, invalid("label", "is required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = slug(label)
	}
	if id == "" {
		id = newItemID(hid, "inventory", label)
	}
	it := domain.InventoryItem{
		ID:            id,
		HouseholdID:   hid,
		SubjectID:     strings.TrimSpace(in.SubjectID),
		Label:         label,
		RemainingDays: care.ClampRemaining(in.Remaining),
		LastAction:    strings.TrimSpace(in.Action),
		UpdatedAt:     e.now(),
	}
	if in.RemainingMax != nil {
		upper := care.ClampRemaining(*in.RemainingMax)
		it.RemainingDaysMax = &upper
	}
	if err := e.saveInventory(ctx, it, actorID); err != nil {
		return InventoryView{}, err
	}
	return e.inventoryView(it), nil
}

// RecordStockAction logs an action such as "refilled" against an existing
// item and replaces its estimate. A NaN remaining keeps the old estimate.
func (e Engine) RecordStockAction(ctx context.Context, id, action string, remaining float64, actorID string) (InventoryView, error) {
	hid, err := e.householdID()
	if err != nil {
		return InventoryView{}, err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return InventoryView{}, invalid("action", "is required")
	}
	var out domain.InventoryItem
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		it, err := e.Repo.GetInventoryTx(ctx, tx, hid, id)
		if err != nil {
			return err
		}
		it.LastAction = action
		if !math.IsNaN(remaining) {
			it.RemainingDays = care.ClampRemaining(remaining)
			it.RemainingDaysMax = nil
		}
		it.UpdatedAt = e.now()
		if err := e.Repo.UpsertInventoryTx(ctx, tx, it); err != nil {
			return err
		}
		out = it
		return e.appendEvent(ctx, tx, events.InventoryUpdated, "inventory", it.ID, actorID, events.EventPayload{
			"action":    action,
			"remaining": it.RemainingDays,
			"tier":      care.ClassifyInventory(it, e.Config.Thresholds),
		})
	})
	if err != nil {
		return InventoryView{}, err
	}
	return e.inventoryView(out), nil
}

func (e Engine) saveInventory(ctx context.Context, it domain.InventoryItem, actorID string) error {
	if it.SubjectID != "" {
		if _, err := e.Repo.GetSubject(ctx, it.HouseholdID, it.SubjectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalid("subject_id", "unknown subject %s", it.SubjectID)
			}
			return err
		}
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertInventoryTx(ctx, tx, it); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.InventoryUpdated, "inventory", it.ID, actorID, events.EventPayload{
			"label":     it.Label,
			"remaining": it.RemainingDays,
			"tier":      care.ClassifyInventory(it, e.Config.Thresholds),
		})
	})
}

// InventoryStatus lists inventory, most urgent tier first.
func (e Engine) InventoryStatus(ctx context.Context) ([]InventoryView, error) {
	hid, err := e.householdID()
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListInventory(ctx, hid)
	if err != nil {
		return nil, err
	}
	views := make([]InventoryView, 0, len(items))
	for _, it := range items {
		views = append(views, e.inventoryView(it))
	}
	sortInventoryViews(views)
	return views, nil
}

func (e Engine) inventoryView(it domain.InventoryItem) InventoryView {
	return InventoryView{InventoryItem: it, Tier: care.ClassifyInventory(it, e.Config.Thresholds)}
}
