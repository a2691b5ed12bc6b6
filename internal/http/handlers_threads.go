package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plouffe/rdv/internal/core"
)

type threadJSON struct {
	ID              string     `json:"id"`
	MailThreadID    string     `json:"mail_thread_id"`
	Requester       string     `json:"requester"`
	Subject         string     `json:"subject,omitempty"`
	State           string     `json:"state"`
	DurationMinutes int        `json:"duration_minutes"`
	ProposedSlots   []slotJSON `json:"proposed_slots,omitempty"`
	SelectedSlot    *slotJSON  `json:"selected_slot,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	MeetingMode     string     `json:"meeting_mode,omitempty"`
	Clarifications  int        `json:"clarifications"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

type slotJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type listThreadsResponse struct {
	Threads []threadJSON `json:"threads"`
}

type threadEventsResponse struct {
	ThreadID string       `json:"thread_id"`
	Events   []core.Event `json:"events"`
}

func (s *Service) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state := core.ThreadState(strings.TrimSpace(r.URL.Query().Get("state")))

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = 50
	}

	threads, err := s.store.ListThreads(r.Context(), state, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	out := make([]threadJSON, 0, len(threads))
	for _, t := range threads {
		out = append(out, toThreadJSON(t))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listThreadsResponse{Threads: out})
}

func (s *Service) handleThreadByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/threads/"), "/")
	if rest == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")

	switch sub {
	case "":
		s.getThread(w, r, id)
	case "events":
		s.getThreadEvents(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) getThread(w http.ResponseWriter, r *http.Request, id string) {
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toThreadJSON(thread))
}

func (s *Service) getThreadEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.store.GetThread(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	events, err := s.store.ListEvents(r.Context(), id, 200)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(threadEventsResponse{ThreadID: id, Events: events})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func toThreadJSON(t core.Thread) threadJSON {
	out := threadJSON{
		ID:              t.ID,
		MailThreadID:    t.MailThreadID,
		Requester:       t.Requester,
		Subject:         t.Subject,
		State:           string(t.State),
		DurationMinutes: int(t.Duration.Minutes()),
		CalendarEventID: t.CalendarEventID,
		MeetingMode:     t.MeetingMode,
		Clarifications:  t.Clarifications,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       t.UpdatedAt.Format(time.RFC3339Nano),
	}
	for _, slot := range t.ProposedSlots {
		out.ProposedSlots = append(out.ProposedSlots, toSlotJSON(slot))
	}
	if t.SelectedSlot != nil {
		s := toSlotJSON(*t.SelectedSlot)
		out.SelectedSlot = &s
	}
	return out
}

func toSlotJSON(s core.Slot) slotJSON {
	return slotJSON{
		Start: s.Start.Format(time.RFC3339),
		End:   s.End.Format(time.RFC3339),
	}
}
