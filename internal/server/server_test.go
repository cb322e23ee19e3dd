package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"petcare/internal/config"
	"petcare/internal/db"
	"petcare/internal/domain"
	"petcare/internal/engine"
	"petcare/internal/migrate"
)

const (
	testHousehold = "home"
	testSecret    = "test-secret"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, opts ...func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testHousehold)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitHousehold(context.Background(), cfg, "", "owner"); err != nil {
		t.Fatalf("init household: %v", err)
	}
	serverCfg := Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testSecret,
		AllowLegacyActorHeader: true,
		DevLogin:               true,
	}}
	for _, opt := range opts {
		opt(&serverCfg)
	}
	handler, err := New(serverCfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func householdURL(srv *testServer, suffix string) string {
	return srv.URL + "/v0/households/" + testHousehold + suffix
}

func TestEmptyQueueHasNoSlots(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, householdURL(srv, "/queue"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue status %d: %s", res.StatusCode, string(data))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if string(raw["slots"]) != "[]" {
		t.Fatalf("expected slots [], got %s", raw["slots"])
	}
	if string(raw["overflow"]) != "0" || string(raw["empty"]) != "true" {
		t.Fatalf("unexpected queue body: %s", string(data))
	}
}

func TestTaskDoneLeavesQueue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, householdURL(srv, "/items"), map[string]any{
		"kind":  "task",
		"title": "Refill water",
		"slot":  "morning",
	}, asActor("owner"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.TrackedItem
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if created.Cadence != domain.CadenceOnce || created.Done {
		t.Fatalf("unexpected item: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodGet, householdURL(srv, "/queue"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue status %d: %s", res.StatusCode, string(data))
	}
	var queue QueueResponse
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(queue.Slots) != 1 || queue.Slots[0].Items[0].ID != created.ID {
		t.Fatalf("expected the task in the queue, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/items/"+created.ID+"/done"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done status %d: %s", res.StatusCode, string(data))
	}
	var done domain.TrackedItem
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if !done.Done || done.Later || done.DoneAt == nil {
		t.Fatalf("expected done item, got %+v", done)
	}

	_, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/queue"), nil, asActor("owner"))
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if !queue.Empty || len(queue.Slots) != 0 {
		t.Fatalf("expected empty queue after done, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/items/"+created.ID+"/later"), nil, asActor("owner"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("defer done item status %d: %s", res.StatusCode, string(data))
	}
}

func TestRecordAnswerChecksChoices(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, householdURL(srv, "/items"), map[string]any{
		"kind":    "notice",
		"title":   "Appetite",
		"choices": []string{"normal", "slightly off", "concerning"},
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create notice status %d: %s", res.StatusCode, string(data))
	}
	var notice domain.TrackedItem
	if err := json.Unmarshal(data, &notice); err != nil {
		t.Fatalf("unmarshal notice: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/notices/"+notice.ID+"/answers"), map[string]any{
		"value": "sometimes",
	}, asActor("owner"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/notices/"+notice.ID+"/answers"), map[string]any{
		"value": "Slightly Off",
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record answer status %d: %s", res.StatusCode, string(data))
	}
	var answer AnswerResponse
	if err := json.Unmarshal(data, &answer); err != nil {
		t.Fatalf("unmarshal answer: %v", err)
	}
	if !answer.Abnormal || answer.Record.Value != "slightly off" {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	res, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/items"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list items status %d: %s", res.StatusCode, string(data))
	}
	var views []engine.ItemView
	if err := json.Unmarshal(data, &views); err != nil {
		t.Fatalf("unmarshal items: %v", err)
	}
	if len(views) != 1 || views[0].Item.LastValue != "slightly off" {
		t.Fatalf("unexpected items: %s", string(data))
	}
}

func TestViewerCannotWrite(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, householdURL(srv, "/rbac/grant"), map[string]any{
		"actor_id": "vic",
		"role_id":  "viewer",
	}, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("grant status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/queue"), nil, asActor("vic"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer queue status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/memos"), map[string]any{
		"text": "buy litter",
	}, asActor("vic"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/rbac/grant"), map[string]any{
		"actor_id": "vic",
		"role_id":  "owner",
	}, asActor("vic"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on self-promotion, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/rbac/revoke"), map[string]any{
		"actor_id": "owner",
		"role_id":  "owner",
	}, asActor("owner"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 revoking last owner, got %d: %s", res.StatusCode, string(data))
	}
}

func TestMissingResourcesAndCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, householdURL(srv, "/items/nope/done"), nil, asActor("owner"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/queue"), nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/queue"), nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestInventoryActionsAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, householdURL(srv, "/inventory/kibble"), map[string]any{
		"label":          "Kibble",
		"remaining_days": 2.5,
	}, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put inventory status %d: %s", res.StatusCode, string(data))
	}
	var view engine.InventoryView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal inventory: %v", err)
	}
	if view.Tier != "warn" {
		t.Fatalf("expected warn tier, got %s", view.Tier)
	}

	res, data = doJSON(t, client, http.MethodPost, householdURL(srv, "/inventory/kibble/actions"), map[string]any{
		"action":         "refilled",
		"remaining_days": 30,
	}, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stock action status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal inventory: %v", err)
	}
	if view.Tier != "ok" || view.LastAction != "refilled" {
		t.Fatalf("unexpected view after refill: %+v", view)
	}

	res, data = doJSON(t, client, http.MethodGet, householdURL(srv, "/events?entity_kind=inventory&limit=1"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one event and a cursor, got %s", string(data))
	}
	if page.Items[0].Payload["action"] != "refilled" {
		t.Fatalf("expected newest event first, got %+v", page.Items[0])
	}
}

func TestDevLoginCreatesHousehold(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "dana",
		"permissions": []string{config.PermHouseholdCreate},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/households", map[string]any{
		"id":       "cabin",
		"timezone": "Europe/Berlin",
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create household status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/households", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list households status %d: %s", res.StatusCode, string(data))
	}
	var households []domain.Household
	if err := json.Unmarshal(data, &households); err != nil {
		t.Fatalf("unmarshal households: %v", err)
	}
	if len(households) != 1 || households[0].ID != "cabin" || households[0].Timezone != "Europe/Berlin" {
		t.Fatalf("expected only cabin, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/households", map[string]any{
		"id": "cabin",
	}, bearer)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate household, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/households/cabin/members/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("members/me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if len(me.Roles) != 1 || me.Roles[0] != "owner" {
		t.Fatalf("expected owner role, got %+v", me)
	}
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []http.Header
		bodies   []webhookEvent
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, r.Header.Clone())
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := config.Default(testHousehold)
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    receiver.URL,
		Events: []string{"item.created"},
		Secret: "s3cret",
	}}
	e, err := srv.Engine.ImportConfig(ctx, cfg, "owner")
	if err != nil {
		t.Fatalf("import config: %v", err)
	}
	d := NewWebhookDispatcher(e, nil)
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	d.DispatchOnce(ctx)

	if _, err := e.CreateMemo(ctx, "", "vet appointment", "owner"); err != nil {
		t.Fatalf("create memo: %v", err)
	}
	if _, err := e.UpsertInventory(ctx, engine.InventoryInput{Label: "Litter", Remaining: 5}, "owner"); err != nil {
		t.Fatalf("upsert inventory: %v", err)
	}
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	h := received[0]
	if h.Get("X-Petcare-Event") != "item.created" || h.Get("X-Petcare-Household") != testHousehold {
		t.Fatalf("unexpected headers: %v", h)
	}
	if h.Get("X-Petcare-Secret") != "s3cret" {
		t.Fatalf("missing secret header")
	}
	if bodies[0].HouseholdID != testHousehold || !strings.Contains(string(bodies[0].Payload), "vet appointment") {
		t.Fatalf("unexpected body: %+v", bodies[0])
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, householdURL(srv, "/config"), nil, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("config status %d: %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), "s3cret") {
		t.Fatalf("config response leaked webhook secret: %s", string(data))
	}
}

func TestOpenAPISpecServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const workers = 8
	bodies := make([][]byte, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d returned a different spec", i)
		}
	}
	if !strings.Contains(string(bodies[0]), "bearerAuth") {
		t.Fatalf("spec missing security schemes")
	}
}

func TestConfigUpdateStartsWebhookDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var hub *WebhookHub
	srv, cleanup := newTestServer(t, func(c *Config) {
		hub = NewWebhookHub(ctx, c.Engine, nil)
		hub.interval = 20 * time.Millisecond
		c.Webhooks = hub
	})
	defer cleanup()
	defer cancel()
	if n, err := hub.Start(); err != nil || n != 0 {
		t.Fatalf("start = %d, %v", n, err)
	}

	delivered := make(chan string, 8)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.Header.Get("X-Petcare-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := config.Default(testHousehold)
	cfg.Webhooks = []config.WebhookConfig{{URL: receiver.URL, Events: []string{"item.created"}}}
	raw, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("render config: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPut, householdURL(srv, "/config"), map[string]any{"yaml": string(raw)}, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put config status %d: %s", res.StatusCode, string(data))
	}
	if hub.Running() != 1 {
		t.Fatalf("expected a running dispatcher after config update, got %d", hub.Running())
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, householdURL(srv, "/items"), map[string]any{
		"kind":  "task",
		"title": "Refill water",
	}, asActor("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(data))
	}
	select {
	case evt := <-delivered:
		if evt != "item.created" {
			t.Fatalf("unexpected event %q", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook not delivered without a restart")
	}

	cfg.Webhooks = nil
	raw, err = cfg.ToYAML()
	if err != nil {
		t.Fatalf("render config: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPut, householdURL(srv, "/config"), map[string]any{"yaml": string(raw)}, asActor("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put config status %d: %s", res.StatusCode, string(data))
	}
	if hub.Running() != 0 {
		t.Fatalf("dispatcher should stop once webhooks are removed")
	}
}
