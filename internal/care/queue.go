package care

import (
	"time"

	"petcare/internal/domain"
)

// SlotKind identifies what a queue slot holds.
type SlotKind string

const (
	SlotNotices SlotKind = "notices"
	SlotTask    SlotKind = "task"
	SlotMoment  SlotKind = "moment"
	SlotMemo    SlotKind = "memo"
)

// Slot is one card in the today view. Only the notice group holds more than
// one item.
type Slot struct {
	Kind  SlotKind             `json:"kind" enum:"notices,task,moment,memo"`
	Items []domain.TrackedItem `json:"items"`
}

// CardQueue is the bounded today view plus the number of pending items that
// did not fit.
type CardQueue struct {
	Slots    []Slot `json:"slots"`
	Overflow int    `json:"overflow"`
}

// Empty reports that there is no current item to show.
func (q CardQueue) Empty() bool { return len(q.Slots) == 0 }

// Shown counts displayed items, counting every notice group member.
func (q CardQueue) Shown() int {
	n := 0
	for _, s := range q.Slots {
		n += len(s.Items)
	}
	return n
}

type queueSupply struct {
	notices  []domain.TrackedItem
	seasonal []domain.TrackedItem
	moments  []domain.TrackedItem
	tasks    []domain.TrackedItem
	memos    []domain.TrackedItem
	// hidden holds optional check notices: pending, but never given a card.
	hidden []domain.TrackedItem
}

func collectSupply(items []domain.TrackedItem, now time.Time, opts Options) queueSupply {
	var s queueSupply
	for _, it := range SortItems(items, now, opts) {
		if !it.Pending() {
			continue
		}
		switch it.Kind {
		case domain.KindTask:
			s.tasks = append(s.tasks, it)
		case domain.KindMemo:
			s.memos = append(s.memos, it)
		case domain.KindNotice:
			if !IsActiveNotice(it, now, opts) {
				continue
			}
			switch {
			case it.NoticeKind == domain.NoticeMoment:
				s.moments = append(s.moments, it)
			case it.Seasonal:
				s.seasonal = append(s.seasonal, it)
			case it.Optional:
				s.hidden = append(s.hidden, it)
			default:
				s.notices = append(s.notices, it)
			}
		}
	}
	return s
}

func (s queueSupply) pending() int {
	return len(s.notices) + len(s.seasonal) + len(s.moments) + len(s.tasks) + len(s.memos) + len(s.hidden)
}

// BuildCardQueue allocates the today view: the notice group, the leading
// tasks, one moment, one memo, then further tasks until capacity is reached.
func BuildCardQueue(snap Snapshot, now time.Time, opts Options) CardQueue {
	supply := collectSupply(snap.Items, now, opts)
	layout := opts.Layout
	q := CardQueue{Slots: []Slot{}}
	full := func() bool { return len(q.Slots) >= layout.Capacity }

	group := head(supply.notices, layout.NoticeGroupMax)
	group = append(group, head(supply.seasonal, layout.SeasonalExtraMax)...)
	if len(group) > 0 && !full() {
		q.Slots = append(q.Slots, Slot{Kind: SlotNotices, Items: group})
	}

	taken := 0
	for taken < len(supply.tasks) && taken < layout.LeadingTasks && !full() {
		q.Slots = append(q.Slots, single(SlotTask, supply.tasks[taken]))
		taken++
	}
	if len(supply.moments) > 0 && !full() {
		q.Slots = append(q.Slots, single(SlotMoment, supply.moments[0]))
	}
	if len(supply.memos) > 0 && !full() {
		q.Slots = append(q.Slots, single(SlotMemo, supply.memos[0]))
	}
	for taken < len(supply.tasks) && !full() {
		q.Slots = append(q.Slots, single(SlotTask, supply.tasks[taken]))
		taken++
	}

	q.Overflow = supply.pending() - q.Shown()
	if q.Overflow < 0 {
		q.Overflow = 0
	}
	return q
}

func single(kind SlotKind, it domain.TrackedItem) Slot {
	return Slot{Kind: kind, Items: []domain.TrackedItem{it}}
}

func head(items []domain.TrackedItem, n int) []domain.TrackedItem {
	if n <= 0 {
		return nil
	}
	if len(items) > n {
		items = items[:n]
	}
	return append([]domain.TrackedItem(nil), items...)
}
