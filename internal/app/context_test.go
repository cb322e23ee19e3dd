package app

import (
	"context"
	"strings"
	"testing"

	"petcare/internal/config"
	"petcare/internal/db"
	"petcare/internal/engine"
	"petcare/internal/migrate"
	"petcare/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestResolveWithoutHouseholdAsksForOne(t *testing.T) {
	r := newRepo(t)
	_, _, err := ResolveHouseholdAndConfig(context.Background(), "", "sam", r)
	if err == nil || !strings.Contains(err.Error(), "pc household create") {
		t.Fatalf("expected create hint, got %v", err)
	}
}

func TestResolveSeedsOverrideAndPicksSingleHousehold(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	id, cfg, err := ResolveHouseholdAndConfig(ctx, "home", "sam", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "home" || cfg.Household.ID != "home" {
		t.Fatalf("unexpected household %q / %q", id, cfg.Household.ID)
	}
	if _, err := r.GetHouseholdConfig(ctx, "home"); err != nil {
		t.Fatalf("config not stored: %v", err)
	}

	e, err := Engine(ctx, "", "sam", r)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if e.Config == nil || e.Config.Household.ID != "home" {
		t.Fatalf("engine bound to wrong household: %+v", e.Config)
	}
}

func TestResolveRequiresOverrideWithSeveralHouseholds(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, id := range []string{"home", "cabin"} {
		cfg := config.Default(id)
		if _, err := engine.New(r.DB, cfg).InitHousehold(ctx, cfg, "", "sam"); err != nil {
			t.Fatalf("init %s: %v", id, err)
		}
	}
	if _, _, err := ResolveHouseholdAndConfig(ctx, "", "sam", r); err == nil {
		t.Fatalf("expected ambiguity error")
	}
	id, _, err := ResolveHouseholdAndConfig(ctx, "cabin", "sam", r)
	if err != nil || id != "cabin" {
		t.Fatalf("override = %q, %v", id, err)
	}
}
