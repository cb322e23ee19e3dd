package petcaresdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"petcare/internal/config"
	"petcare/internal/db"
	"petcare/internal/engine"
	"petcare/internal/migrate"
	"petcare/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("home")
	e := engine.New(conn, cfg)
	if _, err := e.InitHousehold(context.Background(), cfg, "", "sam"); err != nil {
		t.Fatalf("init household: %v", err)
	}
	const secret = "sdk-secret"
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	token, err := server.SignDevToken(secret, "sam", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	c := New(ts.URL, "home")
	c.BearerToken = token
	return c
}

func TestClientQueueFlow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	q, err := c.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !q.Empty || len(q.Slots) != 0 {
		t.Fatalf("expected empty queue, got %+v", q)
	}

	memo, err := c.CreateMemo(ctx, "", "book vet")
	if err != nil {
		t.Fatalf("create memo: %v", err)
	}
	if memo.Kind != "memo" || memo.DueAt == nil {
		t.Fatalf("unexpected memo: %+v", memo)
	}
	q, err = c.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(q.Slots) != 1 || q.Slots[0].Kind != "memo" {
		t.Fatalf("expected one memo slot, got %+v", q)
	}

	done, err := c.MarkDone(ctx, memo.ID)
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if !done.Done {
		t.Fatalf("expected done")
	}

	events, err := c.Events(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 || events[0].Type != "item.done" {
		t.Fatalf("expected item.done first, got %+v", events)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	notice, err := c.CreateItem(ctx, NewItem{Kind: "notice", Title: "Energy", Choices: []string{"normal", "low"}})
	if err != nil {
		t.Fatalf("create notice: %v", err)
	}
	_, err = c.RecordAnswer(ctx, notice.ID, "sleepy")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 api error, got %v", err)
	}

	_, err = c.MarkDone(ctx, "missing")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}

	item, err := c.SetInventory(ctx, "litter", "Litter", 0.5)
	if err != nil {
		t.Fatalf("set inventory: %v", err)
	}
	if item.Tier != "danger" {
		t.Fatalf("expected danger tier, got %s", item.Tier)
	}
}
