package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/plouffe/rdv/internal/core"
)

type notificationRequest struct {
	MessageID string `json:"message_id"`
}

// handleNotification is the ingress for mail push notifications: the hook
// posts the Message-ID of new mail and the engine does the rest. The reply
// reports what the engine decided, mostly for the hook's logs.
func (s *Service) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.MessageID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.handler == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	result, err := s.handler.HandleNewMessage(r.Context(), req.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		default:
			// Upstream trouble (mail, calendar, model): the hook should
			// redeliver the notification later.
			w.WriteHeader(http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
