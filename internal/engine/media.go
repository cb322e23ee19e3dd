package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"petcare/internal/domain"
	"petcare/internal/events"
	"petcare/internal/repo"
)

// PhotoInput registers a photo. TakenAt defaults to now.
type PhotoInput struct {
	ID        string
	SubjectID string
	Caption   string
	Tags      []string
	TakenAt   *time.Time
	Archived  bool
}

func (e Engine) AddPhoto(ctx context.Context, in PhotoInput, actorID string) (domain.Photo, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.Photo{}, err
	}
	p := domain.Photo{
		ID:          strings.TrimSpace(in.ID),
		HouseholdID: hid,
		SubjectID:   strings.TrimSpace(in.SubjectID),
		Caption:     strings.TrimSpace(in.Caption),
		Archived:    in.Archived,
		TakenAt:     e.now(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if in.TakenAt != nil {
		p.TakenAt = *in.TakenAt
	}
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			p.Tags = append(p.Tags, t)
		}
	}
	if err := e.checkSubject(ctx, hid, p.SubjectID); err != nil {
		return domain.Photo{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPhotoTx(ctx, tx, p); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.PhotoAdded, "photo", p.ID, actorID, events.EventPayload{
			"subject_id": p.SubjectID,
			"tags":       p.Tags,
		})
	})
	if err != nil {
		return domain.Photo{}, err
	}
	return p, nil
}

func (e Engine) ArchivePhoto(ctx context.Context, id, actorID string) error {
	hid, err := e.householdID()
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ArchivePhotoTx(ctx, tx, hid, id); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.PhotoArchived, "photo", id, actorID, nil)
	})
}

// NoteInput is a free-text note. Only shared notes reach the digest.
type NoteInput struct {
	SubjectID string
	Body      string
	Shared    bool
}

func (e Engine) AddNote(ctx context.Context, in NoteInput, actorID string) (domain.Note, error) {
	hid, err := e.householdID()
	if err != nil {
		return domain.Note{}, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return domain.Note{}, invalid("body", "is required")
	}
	n := domain.Note{
		ID:          uuid.NewString(),
		HouseholdID: hid,
		SubjectID:   strings.TrimSpace(in.SubjectID),
		Body:        body,
		Shared:      in.Shared,
		AuthorID:    actorID,
		CreatedAt:   e.now(),
	}
	if err := e.checkSubject(ctx, hid, n.SubjectID); err != nil {
		return domain.Note{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertNoteTx(ctx, tx, n); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.NoteAdded, "note", n.ID, actorID, events.EventPayload{"shared": n.Shared})
	})
	if err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func (e Engine) checkSubject(ctx context.Context, hid, subjectID string) error {
	if subjectID == "" {
		return nil
	}
	if _, err := e.Repo.GetSubject(ctx, hid, subjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("subject_id", "unknown subject %s", subjectID)
		}
		return err
	}
	return nil
}
