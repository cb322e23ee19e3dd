// Package care computes due dates, urgency tiers, priority order, the
// bounded card queue and the weekly digest from plain entity snapshots.
//
// Every function here is pure: callers pass a snapshot and the current
// instant and get a derived value back. Inputs are never mutated. The time
// zone used for calendar arithmetic is the location of the supplied now.
package care

import (
	"strings"
	"time"

	"petcare/internal/domain"
)

// Default answer tokens that mark a notice as abnormal.
var DefaultAbnormalAnswers = []string{"slightly off", "concerning", "yes"}

// Default photo tags preferred for the digest when something looked abnormal.
var DefaultPhotoTags = []string{"food", "condition", "litter box", "meal"}

// Caps bound the digest lists.
type Caps struct {
	Tasks  int
	Memos  int
	Notes  int
	Photos int
}

// Layout describes how the card queue allocates its slots.
type Layout struct {
	Capacity         int
	NoticeGroupMax   int
	SeasonalExtraMax int
	LeadingTasks     int
}

// Capabilities are feature grants supplied by the host.
type Capabilities struct {
	SeasonalDeck    bool
	HighlightPhotos bool
}

// Options is the configuration the engine runs with.
type Options struct {
	AbnormalAnswers []string
	PhotoTags       []string
	Caps            Caps
	Layout          Layout
	Thresholds      Thresholds
	Capabilities    Capabilities
	// Season overrides the season derived from now when set.
	Season domain.Season
}

func DefaultOptions() Options {
	return Options{
		AbnormalAnswers: append([]string(nil), DefaultAbnormalAnswers...),
		PhotoTags:       append([]string(nil), DefaultPhotoTags...),
		Caps:            Caps{Tasks: 3, Memos: 3, Notes: 2, Photos: 3},
		Layout:          Layout{Capacity: 6, NoticeGroupMax: 3, SeasonalExtraMax: 2, LeadingTasks: 3},
		Thresholds:      DefaultThresholds(),
	}
}

func (o Options) season(now time.Time) domain.Season {
	if o.Season != "" {
		return o.Season
	}
	return SeasonOf(now)
}

// abnormal reports whether value is one of the configured abnormal answers,
// compared literally.
func (o Options) abnormal(value string) bool {
	if value == "" {
		return false
	}
	for _, a := range o.AbnormalAnswers {
		if a == value {
			return true
		}
	}
	return false
}

func (o Options) relevantPhoto(p domain.Photo) bool {
	for _, tag := range p.Tags {
		t := normalizeToken(tag)
		for _, want := range o.PhotoTags {
			if t == normalizeToken(want) {
				return true
			}
		}
	}
	return false
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SeasonOf returns the meteorological (northern hemisphere) season of t.
func SeasonOf(t time.Time) domain.Season {
	switch t.Month() {
	case time.March, time.April, time.May:
		return domain.SeasonSpring
	case time.June, time.July, time.August:
		return domain.SeasonSummer
	case time.September, time.October, time.November:
		return domain.SeasonAutumn
	default:
		return domain.SeasonWinter
	}
}

// Snapshot is the read-only input to the queue and digest builders.
type Snapshot struct {
	Items     []domain.TrackedItem
	Records   []domain.NoticeRecord
	Inventory []domain.InventoryItem
	Photos    []domain.Photo
	Notes     []domain.Note
	Subjects  []domain.Subject
}
