package httpapi

import (
	"context"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/storage"
)

// NotificationHandler processes one inbound mail notification. Implemented
// by the negotiation engine; faked in tests.
type NotificationHandler interface {
	HandleNewMessage(ctx context.Context, messageID string) (core.HandledResult, error)
}

type Service struct {
	store   storage.Store
	handler NotificationHandler
}

func NewService(store storage.Store, handler NotificationHandler) *Service {
	return &Service{store: store, handler: handler}
}
