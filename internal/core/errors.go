package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a thread does not exist.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when a conditional transition loses: the
// thread was no longer in the expected state when the write ran.
var ErrStateConflict = errors.New("thread state conflict")

// BookingError reports a calendar event-creation failure. Conflict marks a
// slot taken between proposal and confirmation.
type BookingError struct {
	Slot     Slot
	Conflict bool
	Err      error
}

func (e *BookingError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("booking conflict for %s: %v", e.Slot.Start.Format("2006-01-02 15:04"), e.Err)
	}
	return fmt.Sprintf("booking failed: %v", e.Err)
}

func (e *BookingError) Unwrap() error { return e.Err }

// AvailabilityError reports a calendar free/busy query failure.
type AvailabilityError struct {
	Err error
}

func (e *AvailabilityError) Error() string { return fmt.Sprintf("availability query: %v", e.Err) }
func (e *AvailabilityError) Unwrap() error { return e.Err }

// ModelError reports a language-model provider or timeout failure.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string { return fmt.Sprintf("intent model: %v", e.Err) }
func (e *ModelError) Unwrap() error { return e.Err }
