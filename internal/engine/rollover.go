package engine

import (
	"context"
	"database/sql"
	"time"

	"petcare/internal/domain"
	"petcare/internal/events"
	"petcare/internal/repo"
)

// periodStart returns the start of the cadence period containing now.
// The zero time means the cadence never re-arms.
func periodStart(c domain.Cadence, now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch c {
	case domain.CadenceDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case domain.CadenceWeekly:
		back := (int(now.Weekday()) + 6) % 7
		return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
	case domain.CadenceMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Time{}
	}
}

// rearm applies the day-boundary rules to it and reports whether anything
// changed.
func rearm(it *domain.TrackedItem, now time.Time) bool {
	if it.Kind == domain.KindMemo {
		return false
	}
	start := periodStart(it.Cadence, now)
	if start.IsZero() {
		return false
	}
	changed := false
	if it.Done && it.DoneAt != nil && it.DoneAt.Before(start) {
		it.Done, it.DoneAt = false, nil
		changed = true
	}
	if it.Later && it.Cadence == domain.CadenceDaily && it.DeferredAt != nil && it.DeferredAt.Before(start) {
		it.Later, it.DeferredAt = false, nil
		changed = true
	}
	if it.IsNotice() && it.RecordedAt != nil && it.RecordedAt.Before(start) {
		it.LastValue, it.RecordedAt = "", nil
		changed = true
	}
	return changed
}

// Rollover re-arms recurring items whose completion, deferral or answer
// belongs to an earlier period. It returns the IDs it touched.
func (e Engine) Rollover(ctx context.Context, actorID string) ([]string, error) {
	hid, err := e.householdID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	var rearmed []string
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		items, err := e.Repo.ListItemsTx(ctx, tx, repo.ItemFilters{HouseholdID: hid})
		if err != nil {
			return err
		}
		for _, it := range items {
			if !rearm(&it, now) {
				continue
			}
			it.UpdatedAt = now
			if err := e.Repo.UpdateItemStateTx(ctx, tx, it); err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, events.ItemRearmed, "item", it.ID, actorID, events.EventPayload{
				"cadence": it.Cadence,
				"done":    it.Done,
				"later":   it.Later,
			}); err != nil {
				return err
			}
			rearmed = append(rearmed, it.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("rollover complete", "household", hid, "rearmed", len(rearmed))
	return rearmed, nil
}
