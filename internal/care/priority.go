package care

import (
	"sort"
	"time"

	"petcare/internal/domain"
)

// Class is the coarse priority of an item; lower sorts first.
type Class float64

const (
	ClassAbnormal     Class = 0
	ClassNotice       Class = 0.8
	ClassTask         Class = 1.0
	ClassMemo         Class = 1.7
	ClassMoment       Class = 2.0
	ClassUnclassified Class = 3.0
)

// Priority is the full sort key of an item.
type Priority struct {
	Class  Class     `json:"class"`
	Bucket Bucket    `json:"bucket"`
	Due    time.Time `json:"due" format:"date-time"`
}

// Less orders by class, then bucket rank, then resolved due instant.
func (p Priority) Less(o Priority) bool {
	if p.Class != o.Class {
		return p.Class < o.Class
	}
	if pr, or := p.Bucket.Rank(), o.Bucket.Rank(); pr != or {
		return pr < or
	}
	return p.Due.Before(o.Due)
}

func (p Priority) equal(o Priority) bool {
	return p.Class == o.Class && p.Bucket == o.Bucket && p.Due.Equal(o.Due)
}

// IsAbnormal reports whether a check-in notice's latest answer is in the
// abnormal set. Notices without a choice list never count as abnormal.
func IsAbnormal(item domain.TrackedItem, opts Options) bool {
	if item.Kind != domain.KindNotice || item.NoticeKind != domain.NoticeCheck {
		return false
	}
	if len(item.Choices) == 0 {
		return false
	}
	return opts.abnormal(item.LastValue)
}

// IsActiveNotice reports whether a notice is enabled for now. Seasonal
// notices additionally need the seasonal deck and a matching season.
func IsActiveNotice(item domain.TrackedItem, now time.Time, opts Options) bool {
	if item.Kind != domain.KindNotice || !item.Enabled {
		return false
	}
	if item.Seasonal {
		return opts.Capabilities.SeasonalDeck && item.Season == opts.season(now)
	}
	return true
}

// ClassOf returns the coarse priority class of item.
func ClassOf(item domain.TrackedItem, now time.Time, opts Options) Class {
	switch item.Kind {
	case domain.KindTask:
		return ClassTask
	case domain.KindMemo:
		return ClassMemo
	case domain.KindNotice:
		switch item.NoticeKind {
		case domain.NoticeMoment:
			return ClassMoment
		case domain.NoticeCheck:
			if IsAbnormal(item, opts) {
				return ClassAbnormal
			}
			if IsActiveNotice(item, now, opts) {
				return ClassNotice
			}
		}
	}
	return ClassUnclassified
}

func PriorityOf(item domain.TrackedItem, now time.Time, opts Options) Priority {
	return Priority{
		Class:  ClassOf(item, now, opts),
		Bucket: ClassifyBucket(item, now),
		Due:    ResolveNextDue(item, now),
	}
}

// SortItems returns a new slice ordered by priority. Items with identical
// keys are ordered by ID so the result does not depend on input order.
func SortItems(items []domain.TrackedItem, now time.Time, opts Options) []domain.TrackedItem {
	type keyed struct {
		item domain.TrackedItem
		key  Priority
	}
	ks := make([]keyed, len(items))
	for i, it := range items {
		ks[i] = keyed{item: it, key: PriorityOf(it, now, opts)}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if !ks[i].key.equal(ks[j].key) {
			return ks[i].key.Less(ks[j].key)
		}
		return ks[i].item.ID < ks[j].item.ID
	})
	out := make([]domain.TrackedItem, len(ks))
	for i, k := range ks {
		out[i] = k.item
	}
	return out
}
