package domain

import "time"

// ItemKind discriminates the TrackedItem union.
type ItemKind string

const (
	KindTask   ItemKind = "task"
	KindNotice ItemKind = "notice"
	KindMemo   ItemKind = "memo"
)

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceOnce    Cadence = "once"
)

type TimeSlot string

const (
	SlotMorning TimeSlot = "morning"
	SlotEvening TimeSlot = "evening"
	SlotAny     TimeSlot = "any"
)

// NoticeKind separates health/behavior checks from optional moment prompts.
type NoticeKind string

const (
	NoticeCheck  NoticeKind = "notice"
	NoticeMoment NoticeKind = "moment"
)

type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
)

// TrackedItem is a care task, notice or memo. Fields after Optional only
// apply to notices.
type TrackedItem struct {
	ID          string     `json:"id"`
	HouseholdID string     `json:"household_id"`
	SubjectID   string     `json:"subject_id,omitempty"`
	Kind        ItemKind   `json:"kind" enum:"task,notice,memo"`
	Title       string     `json:"title"`
	Cadence     Cadence    `json:"cadence,omitempty"`
	Slot        TimeSlot   `json:"slot,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty" format:"date-time"`
	Done        bool       `json:"done"`
	Later       bool       `json:"later"`
	Optional    bool       `json:"optional"`
	DoneAt      *time.Time `json:"done_at,omitempty" format:"date-time"`
	DeferredAt  *time.Time `json:"deferred_at,omitempty" format:"date-time"`

	NoticeKind NoticeKind `json:"notice_kind,omitempty"`
	Enabled    bool       `json:"enabled"`
	Choices    []string   `json:"choices,omitempty"`
	Seasonal   bool       `json:"seasonal"`
	Season     Season     `json:"season,omitempty"`
	LastValue  string     `json:"last_value,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty" format:"date-time"`

	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

// Pending reports whether the item is neither done nor deferred.
func (t TrackedItem) Pending() bool {
	return !t.Done && !t.Later
}

func (t TrackedItem) IsNotice() bool { return t.Kind == KindNotice }

func (t TrackedItem) IsMoment() bool {
	return t.Kind == KindNotice && t.NoticeKind == NoticeMoment
}

// NoticeRecord is one recorded answer to a notice.
type NoticeRecord struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	NoticeID    string    `json:"notice_id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Value       string    `json:"value"`
	RecordedAt  time.Time `json:"recorded_at" format:"date-time"`
	ActorID     string    `json:"actor_id,omitempty"`
}

// InventoryItem estimates how long a consumable lasts. RemainingDaysMax is
// set when the estimate is a range.
type InventoryItem struct {
	ID               string    `json:"id"`
	HouseholdID      string    `json:"household_id"`
	SubjectID        string    `json:"subject_id,omitempty"`
	Label            string    `json:"label"`
	RemainingDays    float64   `json:"remaining_days"`
	RemainingDaysMax *float64  `json:"remaining_days_max,omitempty"`
	LastAction       string    `json:"last_action,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" format:"date-time"`
}

// LowerBound returns the pessimistic end of the remaining-days estimate.
func (i InventoryItem) LowerBound() float64 {
	if i.RemainingDaysMax != nil && *i.RemainingDaysMax < i.RemainingDays {
		return *i.RemainingDaysMax
	}
	return i.RemainingDays
}

type Photo struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Archived    bool      `json:"archived"`
	TakenAt     time.Time `json:"taken_at" format:"date-time"`
}

type Note struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Body        string    `json:"body"`
	Shared      bool      `json:"shared"`
	AuthorID    string    `json:"author_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// Subject is a tracked animal.
type Subject struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	Name        string `json:"name"`
	Species     string `json:"species,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Household struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Timezone    string `json:"timezone"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	HouseholdID string `json:"household_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Member describes an actor's roles and permissions within a household.
type Member struct {
	HouseholdID string   `json:"household_id"`
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
