package core

import "time"

// ThreadState is the negotiation state of a scheduling conversation.
type ThreadState string

const (
	StateNew                  ThreadState = "new"
	StateAwaitingSelection    ThreadState = "awaiting_selection"
	StateAwaitingConfirmation ThreadState = "awaiting_confirmation"
	StateBooked               ThreadState = "booked"
	StateDeclined             ThreadState = "declined"
	StateExpired              ThreadState = "expired"
)

// Terminal reports whether no further automatic transition is allowed.
func (s ThreadState) Terminal() bool {
	return s == StateBooked || s == StateDeclined || s == StateExpired
}

// Slot is a candidate or booked meeting interval. Intervals are half-open
// [Start, End), so back-to-back slots do not overlap.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

func (s Slot) Equal(o Slot) bool {
	return s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

func (s Slot) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

// Thread tracks one meeting-scheduling conversation. A thread is created on
// the first message classified as a new request, mutated only by the
// negotiation engine, and never deleted.
type Thread struct {
	ID              string        `json:"id"`
	MailThreadID    string        `json:"mail_thread_id"`
	Requester       string        `json:"requester"`
	Subject         string        `json:"subject,omitempty"`
	State           ThreadState   `json:"state"`
	Duration        time.Duration `json:"duration"`
	ProposedSlots   []Slot        `json:"proposed_slots,omitempty"`
	SelectedSlot    *Slot         `json:"selected_slot,omitempty"`
	CalendarEventID string        `json:"calendar_event_id,omitempty"`
	MeetingMode     string        `json:"meeting_mode,omitempty"`
	Clarifications  int           `json:"clarifications"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IntentKind classifies one inbound message.
type IntentKind string

const (
	IntentNewRequest    IntentKind = "new_request"
	IntentSlotSelection IntentKind = "slot_selection"
	IntentConfirmation  IntentKind = "confirmation"
	IntentReschedule    IntentKind = "reschedule"
	IntentCancellation  IntentKind = "cancellation"
	IntentIrrelevant    IntentKind = "irrelevant"
)

// Intent is the structured interpretation of one inbound message. It is
// ephemeral: derived per message, never stored.
type Intent struct {
	Kind IntentKind

	// New-request payload.
	Duration    time.Duration
	WindowStart time.Time
	WindowEnd   time.Time
	MeetingMode string

	// Slot-selection payload. SlotIndex is 1-based; Slot carries an explicit
	// date/time pick. Ambiguous marks a selection that could not be resolved
	// to exactly one proposed slot.
	SlotIndex int
	Slot      *Slot
	Ambiguous bool
}

// Message is a normalized inbound mail message handed to the engine.
type Message struct {
	ID           string
	MailThreadID string
	From         string
	Subject      string
	Body         string
	ReceivedAt   time.Time
}

// ActionType names the reply decision made by the engine.
type ActionType string

const (
	ActionPropose        ActionType = "propose"
	ActionClarify        ActionType = "clarify"
	ActionConfirmRequest ActionType = "confirm_request"
	ActionBookingDone    ActionType = "booking_done"
	ActionBookingFailed  ActionType = "booking_failed"
	ActionDeclined       ActionType = "declined"
	ActionInactive       ActionType = "inactive"
	ActionNone           ActionType = "none"
)

// HandledResult is returned to the HTTP layer for each processed notification.
type HandledResult struct {
	Action   ActionType  `json:"action"`
	ThreadID string      `json:"thread_id,omitempty"`
	State    ThreadState `json:"state,omitempty"`
}

// EventType identifies a negotiation event emitted on state changes.
type EventType string

const (
	EventThreadCreated  EventType = "thread.created"
	EventSlotsProposed  EventType = "thread.proposed"
	EventSlotSelected   EventType = "thread.selected"
	EventThreadBooked   EventType = "thread.booked"
	EventThreadDeclined EventType = "thread.declined"
	EventThreadExpired  EventType = "thread.expired"
)

// Event is broadcast to gateway subscribers whenever a thread transitions.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	ThreadID  string      `json:"thread_id"`
	State     ThreadState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
}

// BookingRequest is what the engine hands the calendar when committing a
// confirmed slot.
type BookingRequest struct {
	Slot        Slot
	Attendee    string
	Title       string
	Description string
	Mode        string
}
