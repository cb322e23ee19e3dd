package petcaresdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Petcare HTTP API client bound to one household.
type Client struct {
	BaseURL     string
	HouseholdID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, householdID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		HouseholdID: householdID,
		Timeout:     10 * time.Second,
	}
}

// Item represents a task, notice or memo (partial).
type Item struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id,omitempty"`
	Kind       string     `json:"kind"`
	Title      string     `json:"title"`
	Cadence    string     `json:"cadence,omitempty"`
	Slot       string     `json:"slot,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Done       bool       `json:"done"`
	Later      bool       `json:"later"`
	NoticeKind string     `json:"notice_kind,omitempty"`
	Enabled    bool       `json:"enabled"`
	Choices    []string   `json:"choices,omitempty"`
	LastValue  string     `json:"last_value,omitempty"`
}

// NewItem holds the fields accepted by CreateItem. Empty fields take the
// server defaults for the kind.
type NewItem struct {
	SubjectID  string     `json:"subject_id,omitempty"`
	Kind       string     `json:"kind"`
	Title      string     `json:"title"`
	Cadence    string     `json:"cadence,omitempty"`
	Slot       string     `json:"slot,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	NoticeKind string     `json:"notice_kind,omitempty"`
	Choices    []string   `json:"choices,omitempty"`
}

// Slot is one card in the queue. Notice slots may hold several items.
type Slot struct {
	Kind  string `json:"kind"`
	Items []Item `json:"items"`
}

type Queue struct {
	Slots    []Slot `json:"slots"`
	Overflow int    `json:"overflow"`
	Empty    bool   `json:"empty"`
}

// Answer is the result of recording a notice answer.
type Answer struct {
	Record struct {
		ID        string `json:"id"`
		NoticeID  string `json:"notice_id"`
		SubjectID string `json:"subject_id,omitempty"`
		Value     string `json:"value"`
	} `json:"record"`
	Notice   Item `json:"notice"`
	Abnormal bool `json:"abnormal"`
}

// InventoryItem is a consumable with its derived tier.
type InventoryItem struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	RemainingDays    float64  `json:"remaining_days"`
	RemainingDaysMax *float64 `json:"remaining_days_max,omitempty"`
	LastAction       string   `json:"last_action,omitempty"`
	Tier             string   `json:"tier"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	HouseholdID string         `json:"household_id"`
	EntityID    string         `json:"entity_id"`
	EntityKind  string         `json:"entity_kind"`
	Payload     map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateItem creates a task, notice or memo.
func (c *Client) CreateItem(ctx context.Context, in NewItem) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, c.householdPath("items"), in, &resp)
	return resp, err
}

// CreateMemo creates a memo due three days from now.
func (c *Client) CreateMemo(ctx context.Context, subjectID, text string) (Item, error) {
	body := map[string]any{"text": text}
	if subjectID != "" {
		body["subject_id"] = subjectID
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.householdPath("memos"), body, &resp)
	return resp, err
}

// MarkDone completes an item.
func (c *Client) MarkDone(ctx context.Context, itemID string) (Item, error) {
	return c.transition(ctx, itemID, "done")
}

// Defer moves an item to later.
func (c *Client) Defer(ctx context.Context, itemID string) (Item, error) {
	return c.transition(ctx, itemID, "later")
}

// Reset returns an item to pending.
func (c *Client) Reset(ctx context.Context, itemID string) (Item, error) {
	return c.transition(ctx, itemID, "reset")
}

func (c *Client) transition(ctx context.Context, itemID, verb string) (Item, error) {
	var resp Item
	endpoint := c.householdPath(fmt.Sprintf("items/%s/%s", url.PathEscape(itemID), verb))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RecordAnswer records value as the latest answer to a notice.
func (c *Client) RecordAnswer(ctx context.Context, noticeID, value string) (Answer, error) {
	var resp Answer
	endpoint := c.householdPath(fmt.Sprintf("notices/%s/answers", url.PathEscape(noticeID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

// Queue returns today's cards.
func (c *Client) Queue(ctx context.Context) (Queue, error) {
	var resp Queue
	err := c.do(ctx, http.MethodGet, c.householdPath("queue"), nil, &resp)
	return resp, err
}

// Inventory lists consumables, most urgent first.
func (c *Client) Inventory(ctx context.Context) ([]InventoryItem, error) {
	var resp []InventoryItem
	err := c.do(ctx, http.MethodGet, c.householdPath("inventory"), nil, &resp)
	return resp, err
}

// SetInventory creates or replaces an estimate.
func (c *Client) SetInventory(ctx context.Context, id, label string, remainingDays float64) (InventoryItem, error) {
	body := map[string]any{"label": label, "remaining_days": remainingDays}
	var resp InventoryItem
	endpoint := c.householdPath("inventory/" + url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.householdPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) householdPath(p string) string {
	household := url.PathEscape(c.HouseholdID)
	return fmt.Sprintf("v0/households/%s/%s", household, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
