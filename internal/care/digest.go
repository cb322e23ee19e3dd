package care

import (
	"sort"
	"time"

	"petcare/internal/domain"
)

// DigestSpan is the length of the rolling digest window.
const DigestSpan = 7 * 24 * time.Hour

// Window is the closed interval [Start, End] a digest covers.
type Window struct {
	Start time.Time `json:"start" format:"date-time"`
	End   time.Time `json:"end" format:"date-time"`
}

// NewWindow returns the seven days ending at now.
func NewWindow(now time.Time) Window {
	return Window{Start: now.Add(-DigestSpan), End: now}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// SubjectDigest collects one subject's answers inside the window.
type SubjectDigest struct {
	SubjectID     string                `json:"subject_id"`
	Abnormal      []domain.NoticeRecord `json:"abnormal"`
	Moments       []domain.NoticeRecord `json:"moments"`
	AbnormalCount int                   `json:"abnormal_count"`
}

type StockWarning struct {
	Item domain.InventoryItem `json:"item"`
	Tier Tier                 `json:"tier" enum:"danger,warn,soon"`
}

// Digest summarizes a window.
type Digest struct {
	Window        Window               `json:"window"`
	Subjects      []SubjectDigest      `json:"subjects"`
	StockWarnings []StockWarning       `json:"stock_warnings"`
	TopTasks      []domain.TrackedItem `json:"top_tasks"`
	TopMemos      []domain.TrackedItem `json:"top_memos"`
	RecentNotes   []domain.Note        `json:"recent_notes"`
	Photos        []domain.Photo       `json:"photos"`
	AbnormalCount int                  `json:"abnormal_count"`
}

// Empty reports a digest with nothing to say.
func (d Digest) Empty() bool {
	return len(d.Subjects) == 0 && len(d.StockWarnings) == 0 && len(d.TopTasks) == 0 &&
		len(d.TopMemos) == 0 && len(d.RecentNotes) == 0 && len(d.Photos) == 0
}

// BuildDigest aggregates snap over w. The window end is used as now.
func BuildDigest(w Window, snap Snapshot, opts Options) Digest {
	d := Digest{
		Window:        w,
		Subjects:      []SubjectDigest{},
		StockWarnings: []StockWarning{},
		TopTasks:      []domain.TrackedItem{},
		TopMemos:      []domain.TrackedItem{},
		RecentNotes:   []domain.Note{},
		Photos:        []domain.Photo{},
	}
	d.Subjects = digestSubjects(w, snap, opts)
	for _, s := range d.Subjects {
		d.AbnormalCount += s.AbnormalCount
	}
	d.StockWarnings = stockWarnings(snap.Inventory, opts.Thresholds)

	for _, it := range SortItems(snap.Items, w.End, opts) {
		if !it.Pending() {
			continue
		}
		switch {
		case it.Kind == domain.KindTask && len(d.TopTasks) < opts.Caps.Tasks:
			d.TopTasks = append(d.TopTasks, it)
		case it.Kind == domain.KindMemo && len(d.TopMemos) < opts.Caps.Memos:
			d.TopMemos = append(d.TopMemos, it)
		}
	}

	d.RecentNotes = recentNotes(snap.Notes, opts.Caps.Notes)
	if opts.Capabilities.HighlightPhotos {
		d.Photos = highlightPhotos(w, snap.Photos, d.AbnormalCount > 0, opts)
	}
	return d
}

func digestSubjects(w Window, snap Snapshot, opts Options) []SubjectDigest {
	notices := make(map[string]domain.TrackedItem, len(snap.Items))
	for _, it := range snap.Items {
		if it.Kind == domain.KindNotice {
			notices[it.ID] = it
		}
	}
	bySubject := map[string]*SubjectDigest{}
	var order []string
	entry := func(id string) *SubjectDigest {
		if sd, ok := bySubject[id]; ok {
			return sd
		}
		sd := &SubjectDigest{SubjectID: id, Abnormal: []domain.NoticeRecord{}, Moments: []domain.NoticeRecord{}}
		bySubject[id] = sd
		order = append(order, id)
		return sd
	}

	records := append([]domain.NoticeRecord(nil), snap.Records...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	for _, rec := range records {
		if !w.Contains(rec.RecordedAt) {
			continue
		}
		notice, ok := notices[rec.NoticeID]
		if !ok {
			continue
		}
		subject := rec.SubjectID
		if subject == "" {
			subject = notice.SubjectID
		}
		switch notice.NoticeKind {
		case domain.NoticeCheck:
			if len(notice.Choices) == 0 || !opts.abnormal(rec.Value) {
				continue
			}
			sd := entry(subject)
			sd.Abnormal = append(sd.Abnormal, rec)
			sd.AbnormalCount++
		case domain.NoticeMoment:
			if !notice.Enabled {
				continue
			}
			sd := entry(subject)
			sd.Moments = append(sd.Moments, rec)
		}
	}

	// Known subjects first in roster order, then any others by ID.
	rank := make(map[string]int, len(snap.Subjects))
	for i, s := range snap.Subjects {
		rank[s.ID] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		ri, iok := rank[order[i]]
		rj, jok := rank[order[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return order[i] < order[j]
		}
	})
	out := make([]SubjectDigest, 0, len(order))
	for _, id := range order {
		out = append(out, *bySubject[id])
	}
	return out
}

func stockWarnings(items []domain.InventoryItem, t Thresholds) []StockWarning {
	out := []StockWarning{}
	for _, it := range items {
		tier := ClassifyInventory(it, t)
		if tier == TierOK {
			continue
		}
		out = append(out, StockWarning{Item: it, Tier: tier})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if a, b := out[i].Tier.Rank(), out[j].Tier.Rank(); a != b {
			return a < b
		}
		if a, b := ClampRemaining(out[i].Item.LowerBound()), ClampRemaining(out[j].Item.LowerBound()); a != b {
			return a < b
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out
}

func recentNotes(notes []domain.Note, limit int) []domain.Note {
	out := []domain.Note{}
	for _, n := range notes {
		if n.Shared {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:max(limit, 0)]
	}
	return out
}

func highlightPhotos(w Window, photos []domain.Photo, abnormal bool, opts Options) []domain.Photo {
	var pool, relevant []domain.Photo
	for _, p := range photos {
		if p.Archived || !w.Contains(p.TakenAt) {
			continue
		}
		pool = append(pool, p)
		if opts.relevantPhoto(p) {
			relevant = append(relevant, p)
		}
	}
	if abnormal && len(relevant) > 0 {
		pool = relevant
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].TakenAt.After(pool[j].TakenAt)
	})
	out := []domain.Photo{}
	seen := map[string]struct{}{}
	for _, p := range pool {
		if len(out) >= opts.Caps.Photos {
			break
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
