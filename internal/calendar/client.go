package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/core"
)

// Client talks to a REST calendar provider. The wire shapes follow the
// common free-busy and event-insert conventions: busy intervals come back
// as RFC3339 pairs, and a 409 on insert means the slot is no longer free.
type Client struct {
	baseURL    string
	apiKey     string
	calendarID string
	client     *http.Client
}

var _ Port = (*Client)(nil)

func NewClient(cfg config.CalendarConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		calendarID: cfg.CalendarID,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type freeBusyRequest struct {
	CalendarID string `json:"calendar_id"`
	TimeMin    string `json:"time_min"`
	TimeMax    string `json:"time_max"`
}

type freeBusyResponse struct {
	Busy []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"busy"`
}

func (c *Client) Busy(ctx context.Context, window core.Slot) ([]core.Slot, error) {
	body, err := c.post(ctx, "/freeBusy", freeBusyRequest{
		CalendarID: c.calendarID,
		TimeMin:    window.Start.Format(time.RFC3339),
		TimeMax:    window.End.Format(time.RFC3339),
	})
	if err != nil {
		return nil, &core.AvailabilityError{Err: err}
	}

	var parsed freeBusyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &core.AvailabilityError{Err: fmt.Errorf("decode free/busy: %w", err)}
	}

	busy := make([]core.Slot, 0, len(parsed.Busy))
	for _, interval := range parsed.Busy {
		start, err := time.Parse(time.RFC3339, interval.Start)
		if err != nil {
			return nil, &core.AvailabilityError{Err: fmt.Errorf("busy start %q: %w", interval.Start, err)}
		}
		end, err := time.Parse(time.RFC3339, interval.End)
		if err != nil {
			return nil, &core.AvailabilityError{Err: fmt.Errorf("busy end %q: %w", interval.End, err)}
		}
		busy = append(busy, core.Slot{Start: start, End: end})
	}
	return busy, nil
}

type eventRequest struct {
	CalendarID  string   `json:"calendar_id"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Attendees   []string `json:"attendees"`
	Mode        string   `json:"mode,omitempty"`
}

type eventResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateEvent(ctx context.Context, req core.BookingRequest) (string, error) {
	body, err := c.post(ctx, "/events", eventRequest{
		CalendarID:  c.calendarID,
		Summary:     req.Title,
		Description: req.Description,
		Start:       req.Slot.Start.Format(time.RFC3339),
		End:         req.Slot.End.Format(time.RFC3339),
		Attendees:   []string{req.Attendee},
		Mode:        req.Mode,
	})
	if err != nil {
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.code == http.StatusConflict {
			return "", &core.BookingError{Slot: req.Slot, Conflict: true, Err: err}
		}
		return "", &core.BookingError{Slot: req.Slot, Err: err}
	}

	var parsed eventResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &core.BookingError{Slot: req.Slot, Err: fmt.Errorf("decode event: %w", err)}
	}
	if parsed.ID == "" {
		return "", &core.BookingError{Slot: req.Slot, Err: fmt.Errorf("provider returned no event id")}
	}
	return parsed.ID, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(body)}
	}
	return body, nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
