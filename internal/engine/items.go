package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"petcare/internal/care"
	"petcare/internal/domain"
	"petcare/internal/events"
	"petcare/internal/repo"
)

// ItemInput are parameters for creating a tracked item. Zero values pick
// the defaults for the kind.
type ItemInput struct {
	ID         string
	SubjectID  string
	Kind       domain.ItemKind
	Title      string
	Cadence    domain.Cadence
	Slot       domain.TimeSlot
	DueAt      *time.Time
	Optional   bool
	NoticeKind domain.NoticeKind
	Choices    []string
	Seasonal   bool
	Season     domain.Season
	Disabled   bool
}

var (
	validKinds       = map[domain.ItemKind]bool{domain.KindTask: true, domain.KindNotice: true, domain.KindMemo: true}
	validCadences    = map[domain.Cadence]bool{domain.CadenceDaily: true, domain.CadenceWeekly: true, domain.CadenceMonthly: true, domain.CadenceOnce: true}
	validSlots       = map[domain.TimeSlot]bool{domain.SlotMorning: true, domain.SlotEvening: true, domain.SlotAny: true}
	validNoticeKinds = map[domain.NoticeKind]bool{domain.NoticeCheck: true, domain.NoticeMoment: true}
	validSeasons     = map[domain.Season]bool{domain.SeasonSpring: true, domain.SeasonSummer: true, domain.SeasonAutumn: true, domain.SeasonWinter: true}
)

func (e Engine) CreateItem(ctx context.Context, in ItemInput, actorID string) (domain.TrackedItem, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.TrackedItem{}, err
	}
	it, err := e.buildItem(hid, in)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	if it.SubjectID != "" {
		if _, err := e.Repo.GetSubject(ctx, hid, it.SubjectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.TrackedItem{}, invalid("subject_id", "unknown subject %s", it.SubjectID)
			}
			return domain.TrackedItem{}, err
		}
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ItemCreated, "item", it.ID, actorID, events.EventPayload{
			"kind":    it.Kind,
			"title":   it.Title,
			"cadence": it.Cadence,
		})
	})
	if err != nil {
		return domain.TrackedItem{}, err
	}
	return it, nil
}

func (e Engine) buildItem(hid string, in ItemInput) (domain.TrackedItem, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.TrackedItem{}, invalid("title", "is required")
	}
	if !validKinds[in.Kind] {
		return domain.TrackedItem{}, invalid("kind", "%q is not one of task, notice, memo", in.Kind)
	}
	now := e.now()
	it := domain.TrackedItem{
		ID:          strings.TrimSpace(in.ID),
		HouseholdID: hid,
		SubjectID:   strings.TrimSpace(in.SubjectID),
		Kind:        in.Kind,
		Title:       title,
		Cadence:     in.Cadence,
		Slot:        in.Slot,
		DueAt:       in.DueAt,
		Optional:    in.Optional,
		Enabled:     !in.Disabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if it.Slot == "" {
		it.Slot = domain.SlotAny
	}
	if !validSlots[it.Slot] {
		return domain.TrackedItem{}, invalid("slot", "%q is not one of morning, evening, any", it.Slot)
	}
	switch in.Kind {
	case domain.KindNotice:
		if it.Cadence == "" {
			it.Cadence = domain.CadenceDaily
		}
		it.NoticeKind = in.NoticeKind
		if it.NoticeKind == "" {
			it.NoticeKind = domain.NoticeCheck
		}
		if !validNoticeKinds[it.NoticeKind] {
			return domain.TrackedItem{}, invalid("notice_kind", "%q is not one of notice, moment", it.NoticeKind)
		}
		if it.NoticeKind == domain.NoticeMoment {
			it.Optional = true
		}
		for _, c := range in.Choices {
			if c = strings.TrimSpace(c); c != "" {
				it.Choices = append(it.Choices, c)
			}
		}
		it.Seasonal = in.Seasonal
		it.Season = in.Season
		if it.Seasonal && !validSeasons[it.Season] {
			return domain.TrackedItem{}, invalid("season", "seasonal notices need one of spring, summer, autumn, winter")
		}
	case domain.KindMemo:
		it.Cadence = domain.CadenceOnce
		if it.DueAt == nil {
			due := care.MemoDue(now)
			it.DueAt = &due
		}
	default:
		if it.Cadence == "" {
			it.Cadence = domain.CadenceOnce
		}
	}
	if in.Kind != domain.KindNotice && (in.NoticeKind != "" || len(in.Choices) > 0 || in.Seasonal) {
		return domain.TrackedItem{}, invalid("kind", "notice fields given for a %s", in.Kind)
	}
	if !validCadences[it.Cadence] {
		return domain.TrackedItem{}, invalid("cadence", "%q is not one of daily, weekly, monthly, once", it.Cadence)
	}
	if it.ID == "" {
		it.ID = newItemID(hid, string(it.Kind), it.SubjectID, it.Title, now.UTC().Format(time.RFC3339Nano))
	}
	return it, nil
}

// CreateMemo turns free text into a memo due MemoHorizon from now.
func (e Engine) CreateMemo(ctx context.Context, subjectID, text, actorID string) (domain.TrackedItem, error) {
	return e.CreateItem(ctx, ItemInput{SubjectID: subjectID, Kind: domain.KindMemo, Title: text}, actorID)
}

// MarkDone completes an item. A deferred item leaves the later state.
func (e Engine) MarkDone(ctx context.Context, id, actorID string) (domain.TrackedItem, error) {
	return e.transition(ctx, id, actorID, events.ItemDone, func(it *domain.TrackedItem, now time.Time) error {
		it.Done, it.Later = true, false
		it.DoneAt, it.DeferredAt = &now, nil
		return nil
	})
}

// Defer moves a pending item to later. Completed items must be reset first.
func (e Engine) Defer(ctx context.Context, id, actorID string) (domain.TrackedItem, error) {
	return e.transition(ctx, id, actorID, events.ItemDeferred, func(it *domain.TrackedItem, now time.Time) error {
		if it.Done {
			return invalid("state", "item %s is done; reset it before deferring", it.ID)
		}
		it.Later = true
		it.DeferredAt = &now
		return nil
	})
}

// Reset returns an item to pending.
func (e Engine) Reset(ctx context.Context, id, actorID string) (domain.TrackedItem, error) {
	return e.transition(ctx, id, actorID, events.ItemReset, func(it *domain.TrackedItem, _ time.Time) error {
		it.Done, it.Later = false, false
		it.DoneAt, it.DeferredAt = nil, nil
		return nil
	})
}

// SetNoticeEnabled toggles a notice without touching done or later.
func (e Engine) SetNoticeEnabled(ctx context.Context, id string, enabled bool, actorID string) (domain.TrackedItem, error) {
	return e.transition(ctx, id, actorID, events.NoticeToggled, func(it *domain.TrackedItem, _ time.Time) error {
		if !it.IsNotice() {
			return invalid("kind", "item %s is a %s, not a notice", it.ID, it.Kind)
		}
		it.Enabled = enabled
		return nil
	})
}

func (e Engine) transition(ctx context.Context, id, actorID, evtType string, apply func(*domain.TrackedItem, time.Time) error) (domain.TrackedItem, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.TrackedItem{}, err
	}
	var out domain.TrackedItem
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		it, err := e.Repo.GetItemTx(ctx, tx, hid, id)
		if err != nil {
			return err
		}
		now := e.now()
		if err := apply(&it, now); err != nil {
			return err
		}
		it.UpdatedAt = now
		if err := e.Repo.UpdateItemStateTx(ctx, tx, it); err != nil {
			return err
		}
		out = it
		return e.appendEvent(ctx, tx, evtType, "item", it.ID, actorID, events.EventPayload{
			"done":    it.Done,
			"later":   it.Later,
			"enabled": it.Enabled,
		})
	})
	return out, err
}

// AnswerResult is a stored answer and whether it counts as abnormal.
type AnswerResult struct {
	Record   domain.NoticeRecord `json:"record"`
	Notice   domain.TrackedItem  `json:"notice"`
	Abnormal bool                `json:"abnormal"`
}

// RecordAnswer stores value as the latest answer to a notice. When the
// notice lists choices the value must be one of them; the stored value uses
// the choice's spelling.
func (e Engine) RecordAnswer(ctx context.Context, noticeID, subjectID, value, actorID string) (AnswerResult, error) {
	hid, err := e.householdID()
	if err != nil {
		return AnswerResult{}, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return AnswerResult{}, invalid("value", "is required")
	}
	opts := e.Config.Options()
	var res AnswerResult
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		n, err := e.Repo.GetItemTx(ctx, tx, hid, noticeID)
		if err != nil {
			return err
		}
		if !n.IsNotice() {
			return invalid("kind", "item %s is a %s, not a notice", n.ID, n.Kind)
		}
		if len(n.Choices) > 0 {
			choice, ok := matchChoice(n.Choices, value)
			if !ok {
				return invalid("value", "%q is not one of %s", value, strings.Join(n.Choices, ", "))
			}
			value = choice
		}
		now := e.now()
		rec := domain.NoticeRecord{
			ID:          uuid.NewString(),
			HouseholdID: hid,
			NoticeID:    n.ID,
			SubjectID:   firstNonEmpty(strings.TrimSpace(subjectID), n.SubjectID),
			Value:       value,
			RecordedAt:  now,
			ActorID:     actorID,
		}
		if err := e.Repo.InsertNoticeRecordTx(ctx, tx, rec); err != nil {
			return err
		}
		n.LastValue = value
		n.RecordedAt = &now
		n.UpdatedAt = now
		if err := e.Repo.UpdateItemStateTx(ctx, tx, n); err != nil {
			return err
		}
		res = AnswerResult{Record: rec, Notice: n, Abnormal: care.IsAbnormal(n, opts)}
		return e.appendEvent(ctx, tx, events.NoticeRecorded, "notice", n.ID, actorID, events.EventPayload{
			"record_id":  rec.ID,
			"subject_id": rec.SubjectID,
			"value":      value,
			"abnormal":   res.Abnormal,
		})
	})
	if err != nil {
		return AnswerResult{}, err
	}
	if res.Abnormal {
		e.log().Warn("abnormal answer recorded", "notice", noticeID, "subject", res.Record.SubjectID, "value", value)
	}
	return res, nil
}

func matchChoice(choices []string, value string) (string, bool) {
	for _, c := range choices {
		if strings.EqualFold(strings.TrimSpace(c), value) {
			return c, true
		}
	}
	return "", false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
