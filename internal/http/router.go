package httpapi

import (
	"net/http"
)

// NewRouter wires the API surface: the notification ingress, read-only
// thread inspection, and the event gateway. mw wraps every route when set.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/api/notifications", wrap(svc.handleNotification))
	mux.Handle("/api/threads", wrap(svc.handleListThreads))
	mux.Handle("/api/threads/", wrap(svc.handleThreadByID))
	mux.Handle("/api/health", wrap(svc.handleHealth))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/events", mw(wsHandler))
		} else {
			mux.Handle("/ws/events", wsHandler)
		}
	}

	return mux
}
