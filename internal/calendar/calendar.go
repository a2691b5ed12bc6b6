// Package calendar is the booking port and its HTTP provider client.
package calendar

import (
	"context"

	"github.com/plouffe/rdv/internal/core"
)

// Port is the calendar capability the engine depends on. Implementations
// must return a *core.BookingError with Conflict set when the slot was taken
// between proposal and booking; the engine branches on that distinction.
type Port interface {
	// Busy returns the intervals already occupied inside the window.
	Busy(ctx context.Context, window core.Slot) ([]core.Slot, error)

	// CreateEvent books the slot and returns the provider event ID.
	CreateEvent(ctx context.Context, req core.BookingRequest) (string, error)
}
