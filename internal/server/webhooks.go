package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards one household's events to its configured
// webhooks. Each hook keeps its own cursor starting at the newest event seen
// when the hook is first polled, so history is never replayed.
type WebhookDispatcher struct {
	engine    engine.Engine
	household string
	webhooks  []config.WebhookConfig
	client    *http.Client
	logger    *slog.Logger
	mu        sync.Mutex
	cursors   map[int]int64
}

// NewWebhookDispatcher returns nil when e's household has no webhooks.
func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	householdID := e.Config.Household.ID
	if strings.TrimSpace(householdID) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:    e,
		household: householdID,
		webhooks:  e.Config.Webhooks,
		client:    &http.Client{Timeout: defaultWebhookTimeout},
		logger:    logger.With("household", householdID),
		cursors:   make(map[int]int64),
	}
}

// WebhookHub runs one dispatcher per household with webhooks. Refresh
// replaces a household's dispatcher after its config changes.
type WebhookHub struct {
	ctx      context.Context
	engine   engine.Engine
	logger   *slog.Logger
	interval time.Duration
	mu       sync.Mutex
	running  map[string]context.CancelFunc
}

// NewWebhookHub returns a hub whose dispatchers stop when ctx is done.
func NewWebhookHub(ctx context.Context, e engine.Engine, logger *slog.Logger) *WebhookHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHub{
		ctx:      ctx,
		engine:   e,
		logger:   logger,
		interval: defaultWebhookInterval,
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches dispatchers for every household and returns how many run.
func (h *WebhookHub) Start() (int, error) {
	households, err := h.engine.Repo.ListHouseholds(h.ctx)
	if err != nil {
		return 0, err
	}
	for _, hh := range households {
		if err := h.Refresh(hh.ID); err != nil {
			return h.Running(), err
		}
	}
	return h.Running(), nil
}

// Refresh reloads householdID's config and restarts its dispatcher. A nil
// hub does nothing.
func (h *WebhookHub) Refresh(householdID string) error {
	if h == nil {
		return nil
	}
	cfg, err := h.engine.Repo.GetHouseholdConfig(h.ctx, householdID)
	if err != nil {
		return fmt.Errorf("load config for %s: %w", householdID, err)
	}
	he := h.engine
	he.Config = cfg

	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.running[householdID]; ok {
		cancel()
		delete(h.running, householdID)
	}
	d := NewWebhookDispatcher(he, h.logger)
	if d == nil {
		return nil
	}
	d.prime(h.ctx)
	ctx, cancel := context.WithCancel(h.ctx)
	h.running[householdID] = cancel
	go d.Run(ctx, h.interval)
	h.logger.Debug("webhook dispatcher started", "household", householdID, "hooks", len(d.webhooks))
	return nil
}

// Running reports the number of active dispatchers.
func (h *WebhookHub) Running() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.running)
}

// Run polls for new events every interval until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every enabled hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx, hook)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, d.household)
	if err != nil {
		d.logger.Error("webhook fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			// Retry from this event on the next tick.
			d.logger.Warn("webhook delivery failed", "url", hook.URL, "event", evt.ID, "error", err)
			return
		}
		d.logger.Debug("webhook delivered", "url", hook.URL, "event", evt.ID, "type", evt.Type)
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int, _ config.WebhookConfig) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, d.household)
	if err != nil {
		d.logger.Error("webhook init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

// prime pins every hook's cursor to the newest event so only later events
// are delivered.
func (d *WebhookDispatcher) prime(ctx context.Context) {
	for i, hook := range d.webhooks {
		d.cursorFor(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	HouseholdID string          `json:"household_id"`
	EntityKind  string          `json:"entity_kind"`
	EntityID    string          `json:"entity_id,omitempty"`
	ActorID     string          `json:"actor_id"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
	PayloadRaw  string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		HouseholdID: evt.HouseholdID,
		EntityKind:  evt.EntityKind,
		EntityID:    evt.EntityID,
		ActorID:     evt.ActorID,
		TS:          evt.TS,
		Payload:     payload,
		PayloadRaw:  raw,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Petcare-Event", evt.Type)
	req.Header.Set("X-Petcare-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Petcare-Household", d.household)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Petcare-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
