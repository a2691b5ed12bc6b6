// Package client provides a Go client for the rdv scheduling server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

// Slot mirrors the server's half-open meeting interval. Times are RFC 3339.
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Thread is the server's view of one scheduling negotiation.
type Thread struct {
	ID              string `json:"id"`
	MailThreadID    string `json:"mail_thread_id"`
	Requester       string `json:"requester"`
	Subject         string `json:"subject,omitempty"`
	State           string `json:"state"`
	DurationMinutes int    `json:"duration_minutes"`
	ProposedSlots   []Slot `json:"proposed_slots,omitempty"`
	SelectedSlot    *Slot  `json:"selected_slot,omitempty"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`
	MeetingMode     string `json:"meeting_mode,omitempty"`
	Clarifications  int    `json:"clarifications"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// Event records one thread state transition.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ThreadID  string    `json:"thread_id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// NotifyResult reports what the engine did with a notified message.
type NotifyResult struct {
	Action   string `json:"action"`
	ThreadID string `json:"thread_id,omitempty"`
	State    string `json:"state,omitempty"`
}

type listThreadsResponse struct {
	Threads []Thread `json:"threads"`
}

type threadEventsResponse struct {
	ThreadID string  `json:"thread_id"`
	Events   []Event `json:"events"`
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify tells the server a new message arrived in the monitored mailbox.
// A non-2xx status other than 404 means the notification should be
// redelivered later.
func (c *Client) Notify(ctx context.Context, messageID string) (NotifyResult, error) {
	resp, err := c.postJSON(ctx, "/api/notifications", map[string]string{"message_id": messageID})
	if err != nil {
		return NotifyResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NotifyResult{}, fmt.Errorf("notify failed: %d", resp.StatusCode)
	}
	var out NotifyResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return NotifyResult{}, err
	}
	return out, nil
}

// Threads lists negotiation threads, newest first. An empty state matches
// every state.
func (c *Client) Threads(ctx context.Context, state string, limit int) ([]Thread, error) {
	values := url.Values{}
	if state != "" {
		values.Set("state", state)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "/api/threads"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list threads failed: %d", resp.StatusCode)
	}
	var out listThreadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// Thread fetches a single negotiation thread by ID.
func (c *Client) Thread(ctx context.Context, id string) (Thread, error) {
	resp, err := c.get(ctx, "/api/threads/"+url.PathEscape(id))
	if err != nil {
		return Thread{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Thread{}, fmt.Errorf("get thread failed: %d", resp.StatusCode)
	}
	var out Thread
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Thread{}, err
	}
	return out, nil
}

// ThreadEvents returns the transition history for one thread.
func (c *Client) ThreadEvents(ctx context.Context, id string) ([]Event, error) {
	resp, err := c.get(ctx, "/api/threads/"+url.PathEscape(id)+"/events")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get thread events failed: %d", resp.StatusCode)
	}
	var out threadEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.HTTP.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return c.HTTP.Do(req)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
