package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plouffe/rdv/internal/auth"
	"github.com/plouffe/rdv/internal/compose"
	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/engine"
	httpapi "github.com/plouffe/rdv/internal/http"
	"github.com/plouffe/rdv/internal/storage/sqlite"
	"github.com/plouffe/rdv/internal/ws"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// smokeMailbox is an in-memory mailbox: messages are preloaded and replies
// are captured for inspection.
type smokeMailbox struct {
	mu      sync.Mutex
	msgs    map[string]core.Message
	replies []string
	handled []string
}

func (m *smokeMailbox) Fetch(_ context.Context, messageID string) (core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return core.Message{}, core.ErrNotFound
	}
	return msg, nil
}

func (m *smokeMailbox) Reply(_ context.Context, _ core.Message, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, body)
	return nil
}

func (m *smokeMailbox) Notify(_ context.Context, _, _ string) error { return nil }

func (m *smokeMailbox) MarkHandled(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = append(m.handled, messageID)
	return nil
}

// smokeCalendar reports a free calendar and accepts every booking.
type smokeCalendar struct {
	mu      sync.Mutex
	created []core.BookingRequest
}

func (c *smokeCalendar) Busy(_ context.Context, _ core.Slot) ([]core.Slot, error) {
	return nil, nil
}

func (c *smokeCalendar) CreateEvent(_ context.Context, req core.BookingRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, req)
	return fmt.Sprintf("evt-smoke-%d", len(c.created)), nil
}

// smokeClassifier returns scripted intents in order, standing in for the
// model-backed classifier.
type smokeClassifier struct {
	mu      sync.Mutex
	intents []core.Intent
}

func (c *smokeClassifier) Classify(_ context.Context, _ core.Message, _ *core.Thread) (core.Intent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.intents) == 0 {
		return core.Intent{Kind: core.IntentIrrelevant}, nil
	}
	next := c.intents[0]
	c.intents = c.intents[1:]
	return next, nil
}

// TestSmokeBookingFlow exercises the full lifecycle:
// connect WS → notify new request → verify proposal → select slot →
// confirm → verify booking, replies, and event history.
func TestSmokeBookingFlow(t *testing.T) {
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	store := sqlite.NewResilient(st)

	sched := config.SchedulingConfig{
		Timezone:          "UTC",
		BusinessStartHour: 9,
		BusinessEndHour:   18,
		SlotCount:         3,
		WindowDays:        7,
		WidenedWindowDays: 14,
		Inactivity:        72 * time.Hour,
		MaxClarifications: 3,
	}

	mailbox := &smokeMailbox{msgs: map[string]core.Message{
		"<m1@corp.example>": {
			ID:           "<m1@corp.example>",
			MailThreadID: "<m1@corp.example>",
			From:         "ada@corp.example",
			Subject:      "Planning sync",
			Body:         "Can we meet next week for half an hour?",
		},
		"<m2@corp.example>": {
			ID:           "<m2@corp.example>",
			MailThreadID: "<m1@corp.example>",
			From:         "ada@corp.example",
			Subject:      "Re: Planning sync",
			Body:         "Option 1 works for me.",
		},
		"<m3@corp.example>": {
			ID:           "<m3@corp.example>",
			MailThreadID: "<m1@corp.example>",
			From:         "ada@corp.example",
			Subject:      "Re: Planning sync",
			Body:         "Yes, confirmed.",
		},
	}}
	cal := &smokeCalendar{}
	classifier := &smokeClassifier{intents: []core.Intent{
		{Kind: core.IntentNewRequest, Duration: 30 * time.Minute},
		{Kind: core.IntentSlotSelection, SlotIndex: 1},
		{Kind: core.IntentConfirmation},
	}}

	composer, err := compose.New(sched.Location(), "The rdv scheduling assistant")
	if err != nil {
		t.Fatalf("composer: %v", err)
	}

	hub := ws.NewHub()
	eng := engine.New(store, mailbox, cal, classifier, composer, hub, sched)
	svc := httpapi.NewService(store, eng)
	srv := httptest.NewServer(httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(nil)))
	defer srv.Close()

	// 1. Connect the event feed before anything happens.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent := func() map[string]any {
		t.Helper()
		var ev map[string]any
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		return ev
	}

	// 2. New request comes in.
	resp := postJSON(t, srv.URL+"/api/notifications", map[string]string{"message_id": "<m1@corp.example>"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notify m1: %d", resp.StatusCode)
	}
	result := decode[map[string]any](t, resp)
	if result["action"] != "propose" {
		t.Fatalf("expected propose, got %v", result["action"])
	}
	threadID := result["thread_id"].(string)

	if ev := readEvent(); ev["type"] != "thread.created" {
		t.Fatalf("expected thread.created, got %v", ev["type"])
	}
	if ev := readEvent(); ev["type"] != "thread.proposed" {
		t.Fatalf("expected thread.proposed, got %v", ev["type"])
	}

	// 3. Thread is inspectable with proposed slots.
	threadResp := getJSON(t, srv.URL+"/api/threads/"+threadID)
	if threadResp.StatusCode != http.StatusOK {
		t.Fatalf("get thread: %d", threadResp.StatusCode)
	}
	thread := decode[map[string]any](t, threadResp)
	if thread["state"] != "awaiting_selection" {
		t.Fatalf("expected awaiting_selection, got %v", thread["state"])
	}
	slots := thread["proposed_slots"].([]any)
	if len(slots) != 3 {
		t.Fatalf("expected 3 proposed slots, got %d", len(slots))
	}

	// 4. Requester picks the first option.
	resp = postJSON(t, srv.URL+"/api/notifications", map[string]string{"message_id": "<m2@corp.example>"})
	result = decode[map[string]any](t, resp)
	if result["action"] != "confirm_request" {
		t.Fatalf("expected confirm_request, got %v", result["action"])
	}
	if ev := readEvent(); ev["type"] != "thread.selected" {
		t.Fatalf("expected thread.selected, got %v", ev["type"])
	}

	// 5. Requester confirms; the meeting gets booked.
	resp = postJSON(t, srv.URL+"/api/notifications", map[string]string{"message_id": "<m3@corp.example>"})
	result = decode[map[string]any](t, resp)
	if result["action"] != "booking_done" {
		t.Fatalf("expected booking_done, got %v", result["action"])
	}
	if ev := readEvent(); ev["type"] != "thread.booked" {
		t.Fatalf("expected thread.booked, got %v", ev["type"])
	}

	if len(cal.created) != 1 {
		t.Fatalf("expected 1 calendar event, got %d", len(cal.created))
	}
	if cal.created[0].Attendee != "ada@corp.example" {
		t.Fatalf("wrong attendee: %s", cal.created[0].Attendee)
	}

	// 6. Every turn was answered and flagged handled.
	if len(mailbox.replies) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(mailbox.replies))
	}
	if len(mailbox.handled) != 3 {
		t.Fatalf("expected 3 handled messages, got %d", len(mailbox.handled))
	}

	// 7. The event history tells the whole story.
	eventsResp := getJSON(t, srv.URL+"/api/threads/"+threadID+"/events")
	if eventsResp.StatusCode != http.StatusOK {
		t.Fatalf("get events: %d", eventsResp.StatusCode)
	}
	history := decode[map[string]any](t, eventsResp)
	events := history["events"].([]any)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.(map[string]any)["type"].(string))
	}
	want := []string{"thread.created", "thread.proposed", "thread.selected", "thread.booked"}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	// The booked thread shows up in state-filtered listings.
	listResp := getJSON(t, srv.URL+"/api/threads?state=booked")
	list := decode[map[string]any](t, listResp)
	threads := list["threads"].([]any)
	if len(threads) != 1 {
		t.Fatalf("expected 1 booked thread, got %d", len(threads))
	}
}

// TestSmokeDeclineFlow exercises: new request with a fully busy calendar →
// thread declined on first contact.
func TestSmokeDeclineFlow(t *testing.T) {
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}

	sched := config.SchedulingConfig{
		Timezone:          "UTC",
		BusinessStartHour: 9,
		BusinessEndHour:   18,
		SlotCount:         3,
		WindowDays:        7,
		WidenedWindowDays: 14,
		MaxClarifications: 3,
	}

	mailbox := &smokeMailbox{msgs: map[string]core.Message{
		"<m1@corp.example>": {
			ID:           "<m1@corp.example>",
			MailThreadID: "<m1@corp.example>",
			From:         "ada@corp.example",
			Subject:      "Quick chat",
			Body:         "Do you have time this month?",
		},
	}}
	busyAll := &busyCalendar{}
	classifier := &smokeClassifier{intents: []core.Intent{
		{Kind: core.IntentNewRequest, Duration: 30 * time.Minute},
	}}
	composer, err := compose.New(sched.Location(), "The rdv scheduling assistant")
	if err != nil {
		t.Fatalf("composer: %v", err)
	}

	store := sqlite.NewResilient(st)
	eng := engine.New(store, mailbox, busyAll, classifier, composer, nil, sched)
	svc := httpapi.NewService(store, eng)
	srv := httptest.NewServer(httpapi.NewRouter(svc, nil, nil))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/notifications", map[string]string{"message_id": "<m1@corp.example>"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notify: %d", resp.StatusCode)
	}
	result := decode[map[string]any](t, resp)
	if result["action"] != "declined" {
		t.Fatalf("expected declined, got %v", result["action"])
	}
	if result["state"] != "declined" {
		t.Fatalf("expected declined state, got %v", result["state"])
	}
	if len(mailbox.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(mailbox.replies))
	}
}

// busyCalendar reports every queried window as fully occupied.
type busyCalendar struct{}

func (busyCalendar) Busy(_ context.Context, window core.Slot) ([]core.Slot, error) {
	return []core.Slot{window}, nil
}

func (busyCalendar) CreateEvent(_ context.Context, _ core.BookingRequest) (string, error) {
	return "", &core.BookingError{Conflict: true}
}
