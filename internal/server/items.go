package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine"
	"petcare/internal/repo"
)

type itemPathInput struct {
	HouseholdID string `path:"household_id"`
	ItemID      string `path:"item_id"`
}

type itemResponse struct {
	Body domain.TrackedItem `json:"body"`
}

var itemErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/items",
		Summary:     "List items in priority order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
		SubjectID   string `query:"subject_id"`
		Kind        string `query:"kind" enum:"task,notice,memo"`
		Pending     bool   `query:"pending"`
	}) (*struct {
		Body []engine.ItemView `json:"body"`
	}, error) {
		he, _, err := household(ctx, e, input.HouseholdID, config.PermItemRead)
		if err != nil {
			return nil, handleError(err)
		}
		views, err := he.SortedItems(ctx, repo.ItemFilters{
			SubjectID:   input.SubjectID,
			Kind:        domain.ItemKind(input.Kind),
			PendingOnly: input.Pending,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.ItemView `json:"body"`
		}{Body: nonNilSlice(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/items",
		Summary:       "Create task, notice or memo",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusConflict}, itemErrors...),
	}, func(ctx context.Context, input *struct {
		HouseholdID string            `path:"household_id"`
		Body        CreateItemRequest `json:"body"`
	}) (*itemResponse, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		it, err := he.CreateItem(ctx, engine.ItemInput{
			ID:         b.ID,
			SubjectID:  b.SubjectID,
			Kind:       domain.ItemKind(b.Kind),
			Title:      b.Title,
			Cadence:    domain.Cadence(b.Cadence),
			Slot:       domain.TimeSlot(b.Slot),
			DueAt:      b.DueAt,
			Optional:   b.Optional,
			NoticeKind: domain.NoticeKind(b.NoticeKind),
			Choices:    b.Choices,
			Seasonal:   b.Seasonal,
			Season:     domain.Season(b.Season),
			Disabled:   b.Disabled,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-memo",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/memos",
		Summary:       "Create memo from free text",
		Description:   "The memo is due three days from now.",
		DefaultStatus: http.StatusCreated,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string            `path:"household_id"`
		Body        CreateMemoRequest `json:"body"`
	}) (*itemResponse, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := he.CreateMemo(ctx, input.Body.SubjectID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/items/{item_id}",
		Summary:     "Get item",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *itemPathInput) (*itemResponse, error) {
		if err := requirePermission(ctx, e, input.HouseholdID, config.PermItemRead); err != nil {
			return nil, handleError(err)
		}
		it, err := e.Repo.GetItem(ctx, input.HouseholdID, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	transitions := []struct {
		op    string
		verb  string
		sum   string
		apply func(engine.Engine, context.Context, string, string) (domain.TrackedItem, error)
	}{
		{"mark-item-done", "done", "Mark item done", engine.Engine.MarkDone},
		{"defer-item", "later", "Defer item to later", engine.Engine.Defer},
		{"reset-item", "reset", "Return item to pending", engine.Engine.Reset},
		{"enable-notice", "enable", "Enable notice", func(he engine.Engine, ctx context.Context, id, actor string) (domain.TrackedItem, error) {
			return he.SetNoticeEnabled(ctx, id, true, actor)
		}},
		{"disable-notice", "disable", "Disable notice", func(he engine.Engine, ctx context.Context, id, actor string) (domain.TrackedItem, error) {
			return he.SetNoticeEnabled(ctx, id, false, actor)
		}},
	}
	for _, tr := range transitions {
		tr := tr
		huma.Register(api, huma.Operation{
			OperationID: tr.op,
			Method:      http.MethodPost,
			Path:        "/households/{household_id}/items/{item_id}/" + tr.verb,
			Summary:     tr.sum,
			Errors:      itemErrors,
		}, func(ctx context.Context, input *itemPathInput) (*itemResponse, error) {
			he, actorID, err := household(ctx, e, input.HouseholdID, config.PermItemWrite)
			if err != nil {
				return nil, handleError(err)
			}
			it, err := tr.apply(he, ctx, input.ItemID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &itemResponse{Body: it}, nil
		})
	}
}

func registerNotices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-answer",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/notices/{item_id}/answers",
		Summary:       "Record an answer to a notice",
		DefaultStatus: http.StatusCreated,
		Errors:        itemErrors,
	}, func(ctx context.Context, input *struct {
		HouseholdID string              `path:"household_id"`
		ItemID      string              `path:"item_id"`
		Body        RecordAnswerRequest `json:"body"`
	}) (*struct {
		Body AnswerResponse `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermNoticeRecord)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := he.RecordAnswer(ctx, input.ItemID, input.Body.SubjectID, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnswerResponse `json:"body"`
		}{Body: AnswerResponse{Record: res.Record, Notice: res.Notice, Abnormal: res.Abnormal}}, nil
	})
}

func registerViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-queue",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/queue",
		Summary:     "Today's card queue",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body QueueResponse `json:"body"`
	}, error) {
		he, _, err := household(ctx, e, input.HouseholdID, config.PermItemRead)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := he.Queue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueResponse `json:"body"`
		}{Body: queueResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-digest",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/digest",
		Summary:     "Weekly digest",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body DigestResponse `json:"body"`
	}, error) {
		he, _, err := household(ctx, e, input.HouseholdID, config.PermItemRead)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := he.Digest(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DigestResponse `json:"body"`
		}{Body: DigestResponse{Digest: d, Empty: d.Empty()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollover",
		Method:      http.MethodPost,
		Path:        "/households/{household_id}/rollover",
		Summary:     "Re-arm recurring items whose period has passed",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body RolloverResponse `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		ids, err := he.Rollover(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RolloverResponse `json:"body"`
		}{Body: RolloverResponse{Rearmed: nonNilSlice(ids)}}, nil
	})
}
