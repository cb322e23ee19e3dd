package app

import (
	"context"
	"errors"
	"fmt"

	"petcare/internal/config"
	"petcare/internal/engine"
	"petcare/internal/repo"
)

// ResolveHouseholdAndConfig picks the active household and ensures the
// household and its config exist in the DB, seeding defaults if missing. It
// prefers the override, then the only household in the workspace. An unknown
// override is created on the fly with actorID as owner.
func ResolveHouseholdAndConfig(ctx context.Context, householdOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	householdID := householdOverride
	if householdID == "" {
		h, err := r.SingleHousehold(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no household yet; create one with pc household create <id>")
			}
			return "", nil, fmt.Errorf("household not specified; use --household: %w", err)
		}
		householdID = h.ID
	}
	seedCfg := config.Default(householdID)

	if _, err := r.GetHousehold(ctx, householdID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := engine.New(r.DB, seedCfg).InitHousehold(ctx, seedCfg, "", actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetHouseholdConfig(ctx, householdID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertHouseholdConfig(ctx, householdID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed household config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Household.ID = householdID
	return householdID, cfg, nil
}

// Engine resolves the active household and returns an engine bound to it.
func Engine(ctx context.Context, householdOverride, actorID string, r repo.Repo) (engine.Engine, error) {
	_, cfg, err := ResolveHouseholdAndConfig(ctx, householdOverride, actorID, r)
	if err != nil {
		return engine.Engine{}, err
	}
	return engine.New(r.DB, cfg), nil
}
