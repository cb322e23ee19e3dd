package care

import (
	"time"

	"petcare/internal/domain"
)

// MemoHorizon is how long after creation a memo falls due.
const MemoHorizon = 72 * time.Hour

// MemoDue returns the due instant for a memo created at created.
func MemoDue(created time.Time) time.Time {
	return created.Add(MemoHorizon)
}

// ResolveNextDue returns when item is next due relative to now.
//
// An explicit due instant always wins. Recurring cadences resolve inside the
// current period and never roll forward on their own: a daily item whose
// slot already passed stays overdue until the caller re-arms it.
func ResolveNextDue(item domain.TrackedItem, now time.Time) time.Time {
	if item.DueAt != nil {
		return *item.DueAt
	}
	y, m, d := now.Date()
	loc := now.Location()
	switch item.Cadence {
	case domain.CadenceDaily:
		hour, min := slotClock(item.Slot)
		return time.Date(y, m, d, hour, min, 0, 0, loc)
	case domain.CadenceWeekly:
		// Days until the coming Sunday, zero when today is Sunday.
		ahead := (7 - int(now.Weekday())) % 7
		return time.Date(y, m, d+ahead, 18, 0, 0, 0, loc)
	case domain.CadenceMonthly:
		// Day zero of next month is the last day of this one.
		return time.Date(y, m+1, 0, 20, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 23, 59, 0, 0, loc)
	}
}

func slotClock(slot domain.TimeSlot) (int, int) {
	switch slot {
	case domain.SlotMorning:
		return 9, 0
	case domain.SlotEvening:
		return 20, 0
	default:
		return 23, 59
	}
}
