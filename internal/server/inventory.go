package server

import (
	"context"
	"math"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine"
)

type inventoryResponse struct {
	Body engine.InventoryView `json:"body"`
}

func registerInventory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-inventory",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/inventory",
		Summary:     "Inventory by urgency",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body []engine.InventoryView `json:"body"`
	}, error) {
		he, _, err := household(ctx, e, input.HouseholdID, config.PermInventoryRead)
		if err != nil {
			return nil, handleError(err)
		}
		views, err := he.InventoryStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.InventoryView `json:"body"`
		}{Body: nonNilSlice(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-inventory",
		Method:      http.MethodPut,
		Path:        "/households/{household_id}/inventory/{inventory_id}",
		Summary:     "Create or replace an inventory estimate",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string                 `path:"household_id"`
		InventoryID string                 `path:"inventory_id"`
		Body        UpsertInventoryRequest `json:"body"`
	}) (*inventoryResponse, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermInventoryWrite)
		if err != nil {
			return nil, handleError(err)
		}
		view, err := he.UpsertInventory(ctx, engine.InventoryInput{
			ID:           input.InventoryID,
			SubjectID:    input.Body.SubjectID,
			Label:        input.Body.Label,
			Remaining:    input.Body.RemainingDays,
			RemainingMax: input.Body.RemainingDaysMax,
			Action:       input.Body.LastAction,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &inventoryResponse{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-stock-action",
		Method:      http.MethodPost,
		Path:        "/households/{household_id}/inventory/{inventory_id}/actions",
		Summary:     "Record a stock action such as refilled",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string             `path:"household_id"`
		InventoryID string             `path:"inventory_id"`
		Body        StockActionRequest `json:"body"`
	}) (*inventoryResponse, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermInventoryWrite)
		if err != nil {
			return nil, handleError(err)
		}
		remaining := math.NaN()
		if input.Body.RemainingDays != nil {
			remaining = *input.Body.RemainingDays
		}
		view, err := he.RecordStockAction(ctx, input.InventoryID, input.Body.Action, remaining, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &inventoryResponse{Body: view}, nil
	})
}

func registerMedia(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-photo",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/photos",
		Summary:       "Register photo metadata",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusConflict}, itemErrors...),
	}, func(ctx context.Context, input *struct {
		HouseholdID string          `path:"household_id"`
		Body        AddPhotoRequest `json:"body"`
	}) (*struct {
		Body domain.Photo `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermMediaWrite)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := he.AddPhoto(ctx, engine.PhotoInput{
			ID:        input.Body.ID,
			SubjectID: input.Body.SubjectID,
			Caption:   input.Body.Caption,
			Tags:      input.Body.Tags,
			TakenAt:   input.Body.TakenAt,
			Archived:  input.Body.Archived,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Photo `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-photo",
		Method:      http.MethodPost,
		Path:        "/households/{household_id}/photos/{photo_id}/archive",
		Summary:     "Archive photo",
		Errors:      itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
		PhotoID     string `path:"photo_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermMediaWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := he.ArchivePhoto(ctx, input.PhotoID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "archived"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/notes",
		Summary:     "List notes, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
		Shared      bool   `query:"shared"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Note `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.HouseholdID, config.PermHouseholdRead); err != nil {
			return nil, handleError(err)
		}
		notes, err := e.Repo.ListNotes(ctx, input.HouseholdID, input.Shared, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Note `json:"body"`
		}{Body: nonNilSlice(notes)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/notes",
		Summary:       "Add note",
		DefaultStatus: http.StatusCreated,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string         `path:"household_id"`
		Body        AddNoteRequest `json:"body"`
	}) (*struct {
		Body domain.Note `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermMediaWrite)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := he.AddNote(ctx, engine.NoteInput{
			SubjectID: input.Body.SubjectID,
			Body:      input.Body.Body,
			Shared:    input.Body.Shared,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Note `json:"body"`
		}{Body: n}, nil
	})
}
