package engine

import (
	"context"
	"sort"

	"petcare/internal/care"
	"petcare/internal/domain"
	"petcare/internal/repo"
)

// Snapshot loads everything the queue and digest read. Records and photos
// are limited to the digest window ending now.
func (e Engine) Snapshot(ctx context.Context) (care.Snapshot, error) {
	hid, err := e.householdID()
	if err != nil {
		return care.Snapshot{}, err
	}
	since := care.NewWindow(e.now()).Start
	var snap care.Snapshot
	if snap.Items, err = e.Repo.ListItems(ctx, repo.ItemFilters{HouseholdID: hid}); err != nil {
		return snap, err
	}
	if snap.Records, err = e.Repo.ListNoticeRecords(ctx, hid, since); err != nil {
		return snap, err
	}
	if snap.Inventory, err = e.Repo.ListInventory(ctx, hid); err != nil {
		return snap, err
	}
	if snap.Photos, err = e.Repo.ListPhotos(ctx, hid, since); err != nil {
		return snap, err
	}
	if snap.Notes, err = e.Repo.ListNotes(ctx, hid, false, 0); err != nil {
		return snap, err
	}
	if snap.Subjects, err = e.Repo.ListSubjects(ctx, hid); err != nil {
		return snap, err
	}
	return snap, nil
}

func (e Engine) Queue(ctx context.Context) (care.CardQueue, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return care.CardQueue{}, err
	}
	return care.BuildCardQueue(snap, e.now(), e.Config.Options()), nil
}

func (e Engine) Digest(ctx context.Context) (care.Digest, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return care.Digest{}, err
	}
	return care.BuildDigest(care.NewWindow(e.now()), snap, e.Config.Options()), nil
}

// ItemView is an item with its computed priority.
type ItemView struct {
	Item     domain.TrackedItem `json:"item"`
	Priority care.Priority     `json:"priority"`
}

// SortedItems returns the household's items in priority order.
func (e Engine) SortedItems(ctx context.Context, f repo.ItemFilters) ([]ItemView, error) {
	hid, err := e.householdID()
	if err != nil {
		return nil, err
	}
	f.HouseholdID = hid
	items, err := e.Repo.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	now, opts := e.now(), e.Config.Options()
	sorted := care.SortItems(items, now, opts)
	out := make([]ItemView, 0, len(sorted))
	for _, it := range sorted {
		out = append(out, ItemView{Item: it, Priority: care.PriorityOf(it, now, opts)})
	}
	return out, nil
}

func sortInventoryViews(views []InventoryView) {
	sort.SliceStable(views, func(i, j int) bool {
		if a, b := views[i].Tier.Rank(), views[j].Tier.Rank(); a != b {
			return a < b
		}
		if a, b := views[i].LowerBound(), views[j].LowerBound(); a != b {
			return a < b
		}
		return views[i].ID < views[j].ID
	})
}
