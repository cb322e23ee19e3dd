package server

import (
	"encoding/json"
	"time"

	"petcare/internal/care"
	"petcare/internal/config"
	"petcare/internal/domain"
)

// Request payloads

type CreateHouseholdRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Timezone    string `json:"timezone,omitempty" example:"Europe/Berlin"`
	Description string `json:"description,omitempty"`
}

type ImportConfigRequest struct {
	// YAML is a complete petcare.yml document.
	YAML string `json:"yaml"`
}

type CreateSubjectRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Species string `json:"species,omitempty"`
}

type CreateItemRequest struct {
	ID         string     `json:"id,omitempty"`
	SubjectID  string     `json:"subject_id,omitempty"`
	Kind       string     `json:"kind" enum:"task,notice,memo"`
	Title      string     `json:"title"`
	Cadence    string     `json:"cadence,omitempty" enum:"daily,weekly,monthly,once"`
	Slot       string     `json:"slot,omitempty" enum:"morning,evening,any"`
	DueAt      *time.Time `json:"due_at,omitempty" format:"date-time"`
	Optional   bool       `json:"optional,omitempty"`
	NoticeKind string     `json:"notice_kind,omitempty" enum:"notice,moment"`
	Choices    []string   `json:"choices,omitempty"`
	Seasonal   bool       `json:"seasonal,omitempty"`
	Season     string     `json:"season,omitempty" enum:"spring,summer,autumn,winter"`
	Disabled   bool       `json:"disabled,omitempty"`
}

type CreateMemoRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	Text      string `json:"text"`
}

type RecordAnswerRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	Value     string `json:"value"`
}

type UpsertInventoryRequest struct {
	SubjectID        string   `json:"subject_id,omitempty"`
	Label            string   `json:"label"`
	RemainingDays    float64  `json:"remaining_days"`
	RemainingDaysMax *float64 `json:"remaining_days_max,omitempty"`
	LastAction       string   `json:"last_action,omitempty"`
}

type StockActionRequest struct {
	Action string `json:"action" example:"refilled"`
	// Omit to keep the current estimate.
	RemainingDays *float64 `json:"remaining_days,omitempty"`
}

type AddPhotoRequest struct {
	ID        string     `json:"id,omitempty"`
	SubjectID string     `json:"subject_id,omitempty"`
	Caption   string     `json:"caption,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	TakenAt   *time.Time `json:"taken_at,omitempty" format:"date-time"`
	Archived  bool       `json:"archived,omitempty"`
}

type AddNoteRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	Body      string `json:"body"`
	Shared    bool   `json:"shared,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TTLSeconds  int      `json:"ttl_seconds,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	HouseholdID string   `json:"household_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	HouseholdID string         `json:"household_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type QueueResponse struct {
	Slots    []care.Slot `json:"slots"`
	Overflow int         `json:"overflow"`
	Empty    bool        `json:"empty"`
}

type DigestResponse struct {
	care.Digest
	Empty bool `json:"empty"`
}

type RolloverResponse struct {
	Rearmed []string `json:"rearmed"`
}

type AnswerResponse struct {
	Record   domain.NoticeRecord `json:"record"`
	Notice   domain.TrackedItem  `json:"notice"`
	Abnormal bool                `json:"abnormal"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		HouseholdID: e.HouseholdID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     decodeJSONMap(e.Payload),
	}
}

func queueResponse(q care.CardQueue) QueueResponse {
	return QueueResponse{Slots: nonNilSlice(q.Slots), Overflow: q.Overflow, Empty: q.Empty()}
}

// configResponse returns a copy of cfg with webhook secrets removed.
func configResponse(cfg *config.Config) config.Config {
	out := *cfg
	out.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
	for i, hook := range cfg.Webhooks {
		hook.Secret = ""
		out.Webhooks[i] = hook
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
