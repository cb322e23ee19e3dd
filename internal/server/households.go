package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine"
)

func registerHouseholds(api huma.API, e engine.Engine, hooks *WebhookHub) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-household",
		Method:        http.MethodPost,
		Path:          "/households",
		Summary:       "Create household",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateHouseholdRequest `json:"body"`
	}) (*struct {
		Body domain.Household `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, config.PermHouseholdCreate); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := strings.TrimSpace(input.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		cfg := config.Default(id)
		if input.Body.Name != "" {
			cfg.Household.Name = input.Body.Name
		}
		if tz := strings.TrimSpace(input.Body.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", "unknown timezone", map[string]any{"timezone": tz})
			}
			cfg.Household.Timezone = tz
		}
		h, err := e.InitHousehold(ctx, cfg, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := hooks.Refresh(h.ID); err != nil {
			hooks.logger.Warn("webhook refresh failed", "household", h.ID, "error", err)
		}
		return &struct {
			Body domain.Household `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-households",
		Method:      http.MethodGet,
		Path:        "/households",
		Summary:     "List households the caller can read",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Household `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListHouseholds(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.Household{}
		for _, h := range items {
			if hasPermission(principal.Permissions, config.PermHouseholdRead) ||
				e.Auth.Require(ctx, h.ID, principal.ActorID, config.PermHouseholdRead) == nil {
				out = append(out, h)
			}
		}
		return &struct {
			Body []domain.Household `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-household",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}",
		Summary:     "Get household",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body domain.Household `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.HouseholdID, config.PermHouseholdRead); err != nil {
			return nil, handleError(err)
		}
		h, err := e.Repo.GetHousehold(ctx, input.HouseholdID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Household `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-household-config",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/config",
		Summary:     "Get household config",
		Description: "Webhook secrets are omitted.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		he, _, err := household(ctx, e, input.HouseholdID, config.PermHouseholdRead)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: configResponse(he.Config)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-household-config",
		Method:      http.MethodPut,
		Path:        "/households/{household_id}/config",
		Summary:     "Replace household config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		HouseholdID string              `path:"household_id"`
		Body        ImportConfigRequest `json:"body"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermHouseholdAdmin)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
		}
		next, err := he.ImportConfig(ctx, cfg, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := hooks.Refresh(input.HouseholdID); err != nil {
			hooks.logger.Warn("webhook refresh failed", "household", input.HouseholdID, "error", err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: configResponse(next.Config)}, nil
	})
}

func registerSubjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subjects",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/subjects",
		Summary:     "List subjects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body []domain.Subject `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.HouseholdID, config.PermHouseholdRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSubjects(ctx, input.HouseholdID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Subject `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-subject",
		Method:        http.MethodPost,
		Path:          "/households/{household_id}/subjects",
		Summary:       "Add subject",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		HouseholdID string               `path:"household_id"`
		Body        CreateSubjectRequest `json:"body"`
	}) (*struct {
		Body domain.Subject `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermSubjectWrite)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := he.AddSubject(ctx, engine.SubjectInput{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Species: input.Body.Species,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subject `json:"body"`
		}{Body: s}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "members-me",
		Method:      http.MethodGet,
		Path:        "/households/{household_id}/members/me",
		Summary:     "Caller's roles and permissions in the household",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HouseholdID string `path:"household_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		he, actorID, err := household(ctx, e, input.HouseholdID, config.PermHouseholdRead)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := he.WhoAmI(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     m.ActorID,
			HouseholdID: m.HouseholdID,
			Roles:       nonNilSlice(m.Roles),
			Permissions: nonNilSlice(m.Permissions),
		}}, nil
	})

	for _, grant := range []bool{true, false} {
		grant := grant
		op := huma.Operation{
			OperationID: "grant-role",
			Method:      http.MethodPost,
			Path:        "/households/{household_id}/rbac/grant",
			Summary:     "Grant a role",
			Errors: []int{
				http.StatusBadRequest,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusUnprocessableEntity,
			},
		}
		if !grant {
			op.OperationID = "revoke-role"
			op.Path = "/households/{household_id}/rbac/revoke"
			op.Summary = "Revoke a role"
		}
		huma.Register(api, op, func(ctx context.Context, input *struct {
			HouseholdID string            `path:"household_id"`
			Body        RoleChangeRequest `json:"body"`
		}) (*struct {
			Body map[string]string `json:"body"`
		}, error) {
			he, actorID, err := household(ctx, e, input.HouseholdID, config.PermHouseholdRead)
			if err != nil {
				return nil, handleError(err)
			}
			if grant {
				err = he.GrantRole(ctx, actorID, input.Body.ActorID, input.Body.RoleID)
			} else {
				err = he.RevokeRole(ctx, actorID, input.Body.ActorID, input.Body.RoleID)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]string `json:"body"`
			}{Body: map[string]string{"status": "ok"}}, nil
		})
	}
}
