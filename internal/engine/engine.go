// Package engine drives the negotiation state machine. Each inbound mail
// notification is fetched, classified, applied to the thread state, and
// answered; every state change is recorded as an event and broadcast.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/plouffe/rdv/internal/avail"
	"github.com/plouffe/rdv/internal/calendar"
	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/mail"
	"github.com/plouffe/rdv/internal/senders"
	"github.com/plouffe/rdv/internal/storage"
)

const defaultDuration = 30 * time.Minute

// Classifier interprets one inbound message against the thread snapshot.
type Classifier interface {
	Classify(ctx context.Context, msg core.Message, thread *core.Thread) (core.Intent, error)
}

// Composer renders the reply body for an engine action.
type Composer interface {
	Compose(ctx context.Context, action core.ActionType, thread *core.Thread) (string, error)
}

// Broadcaster fans events out to gateway subscribers.
type Broadcaster interface {
	Broadcast(event any)
}

// Engine coordinates the ports around the thread store.
type Engine struct {
	store      storage.Store
	mailbox    mail.Port
	cal        calendar.Port
	classifier Classifier
	composer   Composer
	bus        Broadcaster
	sched      config.SchedulingConfig
	allow      *senders.Allowlist
	locks      *threadLocks
	now        func() time.Time
}

func New(store storage.Store, mailbox mail.Port, cal calendar.Port, classifier Classifier, composer Composer, bus Broadcaster, sched config.SchedulingConfig) *Engine {
	return &Engine{
		store:      store,
		mailbox:    mailbox,
		cal:        cal,
		classifier: classifier,
		composer:   composer,
		bus:        bus,
		sched:      sched,
		locks:      newThreadLocks(),
		now:        time.Now,
	}
}

// WithAllowlist restricts the engine to answering only the listed senders.
func (e *Engine) WithAllowlist(allow *senders.Allowlist) *Engine {
	e.allow = allow
	return e
}

// HandleNewMessage processes one mail notification end to end. It is safe
// to call concurrently; work on the same mail thread is serialized.
func (e *Engine) HandleNewMessage(ctx context.Context, messageID string) (core.HandledResult, error) {
	msg, err := e.mailbox.Fetch(ctx, messageID)
	if err != nil {
		return core.HandledResult{Action: core.ActionNone}, fmt.Errorf("fetch %s: %w", messageID, err)
	}

	if !e.allow.Match(msg.From) {
		log.Printf("engine: ignoring mail from unlisted sender %s", msg.From)
		if err := e.mailbox.MarkHandled(ctx, messageID); err != nil {
			log.Printf("engine: mark handled %s: %v", messageID, err)
		}
		return core.HandledResult{Action: core.ActionNone}, nil
	}

	release := e.locks.acquire(msg.MailThreadID)
	defer release()

	thread, prior := e.activeThread(ctx, msg.MailThreadID)

	intent, err := e.classifier.Classify(ctx, msg, thread)
	if err != nil {
		// Classification failures degrade to irrelevant so one model outage
		// cannot wedge a conversation.
		log.Printf("engine: classify %s: %v", messageID, err)
	}

	result, err := e.dispatch(ctx, msg, thread, prior, intent)
	if err != nil {
		return result, err
	}

	if result.Action != core.ActionNone {
		if err := e.respond(ctx, msg, result); err != nil {
			log.Printf("engine: reply for %s: %v", messageID, err)
		}
	}
	if err := e.mailbox.MarkHandled(ctx, messageID); err != nil {
		log.Printf("engine: mark handled %s: %v", messageID, err)
	}
	return result, nil
}

// activeThread returns the live thread for the conversation, expiring a
// stale one on the way. When the latest thread is terminal it is returned
// as prior instead, so a follow-up request starts a fresh negotiation in
// the same mail thread while other messages get an inactive notice.
func (e *Engine) activeThread(ctx context.Context, mailThreadID string) (live, prior *core.Thread) {
	thread, err := e.store.LatestThreadByMailID(ctx, mailThreadID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Printf("engine: lookup thread for %s: %v", mailThreadID, err)
		}
		return nil, nil
	}
	if thread.State.Terminal() {
		return nil, &thread
	}
	if e.sched.Inactivity > 0 && thread.UpdatedAt.Before(e.now().Add(-e.sched.Inactivity)) {
		expired, err := e.store.UpdateThread(ctx, thread.ID, thread.State, func(th *core.Thread) error {
			th.State = core.StateExpired
			return nil
		})
		if err == nil {
			e.emit(ctx, core.EventThreadExpired, expired)
			return nil, &expired
		}
		return nil, &thread
	}
	return &thread, nil
}

func (e *Engine) dispatch(ctx context.Context, msg core.Message, thread, prior *core.Thread, intent core.Intent) (core.HandledResult, error) {
	if thread == nil {
		if intent.Kind == core.IntentNewRequest {
			return e.startThread(ctx, msg, intent)
		}
		if prior != nil && intent.Kind != core.IntentIrrelevant {
			return core.HandledResult{Action: core.ActionInactive, ThreadID: prior.ID, State: prior.State}, nil
		}
		return core.HandledResult{Action: core.ActionNone}, nil
	}

	switch intent.Kind {
	case core.IntentIrrelevant:
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, nil
	case core.IntentCancellation:
		return e.decline(ctx, thread)
	case core.IntentNewRequest, core.IntentReschedule:
		return e.repropose(ctx, thread, intent)
	}

	switch thread.State {
	case core.StateAwaitingSelection:
		if intent.Kind == core.IntentSlotSelection {
			return e.applySelection(ctx, thread, intent)
		}
		// A premature "yes" with nothing selected needs a real pick.
		return e.clarify(ctx, thread)
	case core.StateAwaitingConfirmation:
		switch intent.Kind {
		case core.IntentConfirmation:
			return e.book(ctx, thread)
		case core.IntentSlotSelection:
			return e.applySelection(ctx, thread, intent)
		}
	}
	return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, nil
}

func (e *Engine) startThread(ctx context.Context, msg core.Message, intent core.Intent) (core.HandledResult, error) {
	duration := intent.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	thread, err := e.store.CreateThread(ctx, core.Thread{
		MailThreadID: msg.MailThreadID,
		Requester:    msg.From,
		Subject:      msg.Subject,
		State:        core.StateNew,
		Duration:     duration,
		MeetingMode:  intent.MeetingMode,
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone}, fmt.Errorf("create thread: %w", err)
	}
	e.emit(ctx, core.EventThreadCreated, thread)

	slots, err := e.findSlots(ctx, intent, duration)
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, err
	}
	if len(slots) == 0 {
		return e.decline(ctx, &thread)
	}

	updated, err := e.store.UpdateThread(ctx, thread.ID, core.StateNew, func(th *core.Thread) error {
		th.State = core.StateAwaitingSelection
		th.ProposedSlots = slots
		return nil
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("propose slots: %w", err)
	}
	e.emit(ctx, core.EventSlotsProposed, updated)
	return core.HandledResult{Action: core.ActionPropose, ThreadID: updated.ID, State: updated.State}, nil
}

// repropose restarts the proposal phase for an existing live thread, used
// when the requester changes parameters or rejects the current options.
func (e *Engine) repropose(ctx context.Context, thread *core.Thread, intent core.Intent) (core.HandledResult, error) {
	duration := intent.Duration
	if duration <= 0 {
		duration = thread.Duration
	}

	slots, err := e.findSlots(ctx, intent, duration)
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, err
	}
	if len(slots) == 0 {
		return e.decline(ctx, thread)
	}

	updated, err := e.store.UpdateThread(ctx, thread.ID, thread.State, func(th *core.Thread) error {
		th.State = core.StateAwaitingSelection
		th.Duration = duration
		th.ProposedSlots = slots
		th.SelectedSlot = nil
		if intent.MeetingMode != "" {
			th.MeetingMode = intent.MeetingMode
		}
		return nil
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("repropose: %w", err)
	}
	e.emit(ctx, core.EventSlotsProposed, updated)
	return core.HandledResult{Action: core.ActionPropose, ThreadID: updated.ID, State: updated.State}, nil
}

func (e *Engine) applySelection(ctx context.Context, thread *core.Thread, intent core.Intent) (core.HandledResult, error) {
	slot := resolveSelection(thread, intent)
	if slot == nil {
		return e.clarify(ctx, thread)
	}

	updated, err := e.store.UpdateThread(ctx, thread.ID, thread.State, func(th *core.Thread) error {
		th.State = core.StateAwaitingConfirmation
		th.SelectedSlot = slot
		return nil
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("select slot: %w", err)
	}
	e.emit(ctx, core.EventSlotSelected, updated)
	return core.HandledResult{Action: core.ActionConfirmRequest, ThreadID: updated.ID, State: updated.State}, nil
}

// resolveSelection maps the intent to exactly one proposed slot, or nil.
func resolveSelection(thread *core.Thread, intent core.Intent) *core.Slot {
	if intent.Ambiguous {
		return nil
	}
	if intent.Slot != nil {
		for i := range thread.ProposedSlots {
			if thread.ProposedSlots[i].Equal(*intent.Slot) {
				return &thread.ProposedSlots[i]
			}
		}
		return nil
	}
	if intent.SlotIndex >= 1 && intent.SlotIndex <= len(thread.ProposedSlots) {
		return &thread.ProposedSlots[intent.SlotIndex-1]
	}
	return nil
}

// clarify asks the requester to restate their pick, up to the configured
// limit. Past the limit the thread is declined instead of looping forever.
func (e *Engine) clarify(ctx context.Context, thread *core.Thread) (core.HandledResult, error) {
	if thread.Clarifications >= e.sched.MaxClarifications {
		return e.decline(ctx, thread)
	}
	updated, err := e.store.UpdateThread(ctx, thread.ID, thread.State, func(th *core.Thread) error {
		th.Clarifications++
		return nil
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("record clarification: %w", err)
	}
	return core.HandledResult{Action: core.ActionClarify, ThreadID: updated.ID, State: updated.State}, nil
}

func (e *Engine) decline(ctx context.Context, thread *core.Thread) (core.HandledResult, error) {
	updated, err := e.store.UpdateThread(ctx, thread.ID, thread.State, func(th *core.Thread) error {
		th.State = core.StateDeclined
		return nil
	})
	if err != nil {
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("decline: %w", err)
	}
	e.emit(ctx, core.EventThreadDeclined, updated)
	return core.HandledResult{Action: core.ActionDeclined, ThreadID: updated.ID, State: updated.State}, nil
}

// book commits the selected slot. The calendar call runs first and the
// state only transitions after it succeeds, so the store never shows a
// booked thread without its event id. The keyed lock serializes racing
// confirmations in-process; the conditional update guards the write.
func (e *Engine) book(ctx context.Context, thread *core.Thread) (core.HandledResult, error) {
	if thread.SelectedSlot == nil {
		return e.clarify(ctx, thread)
	}
	slot := *thread.SelectedSlot

	eventID, err := e.cal.CreateEvent(ctx, core.BookingRequest{
		Slot:        slot,
		Attendee:    thread.Requester,
		Title:       meetingTitle(thread),
		Description: fmt.Sprintf("Scheduled by rdv from the mail thread started by %s.", thread.Requester),
		Mode:        thread.MeetingMode,
	})
	if err != nil {
		var bookErr *core.BookingError
		if errors.As(err, &bookErr) {
			// Slot taken or provider refused. The thread stays in
			// awaiting_confirmation with its proposals intact; the requester
			// picks another option, retries, or reschedules.
			log.Printf("engine: booking on %s: %v", thread.ID, err)
			return core.HandledResult{Action: core.ActionBookingFailed, ThreadID: thread.ID, State: thread.State}, nil
		}
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, err
	}

	booked, err := e.store.UpdateThread(ctx, thread.ID, core.StateAwaitingConfirmation, func(th *core.Thread) error {
		th.State = core.StateBooked
		th.CalendarEventID = eventID
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrStateConflict) {
			log.Printf("engine: lost booking race on %s, calendar event %s may be orphaned", thread.ID, eventID)
			return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID, State: thread.State}, nil
		}
		return core.HandledResult{Action: core.ActionNone, ThreadID: thread.ID}, fmt.Errorf("record booking: %w", err)
	}
	e.emit(ctx, core.EventThreadBooked, booked)
	e.notifyBooked(ctx, booked)
	return core.HandledResult{Action: core.ActionBookingDone, ThreadID: booked.ID, State: booked.State}, nil
}

// findSlots queries calendar availability and computes candidates, widening
// the search window once before giving up.
func (e *Engine) findSlots(ctx context.Context, intent core.Intent, duration time.Duration) ([]core.Slot, error) {
	window := core.Slot{Start: intent.WindowStart, End: intent.WindowEnd}
	if window.Start.IsZero() {
		window.Start = e.now()
	}
	if window.End.IsZero() || !window.End.After(window.Start) {
		window.End = window.Start.AddDate(0, 0, e.sched.WindowDays)
	}

	slots, err := e.searchWindow(ctx, window, duration)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		return slots, nil
	}

	widened := core.Slot{Start: window.Start, End: window.Start.AddDate(0, 0, e.sched.WidenedWindowDays)}
	if !widened.End.After(window.End) {
		return nil, nil
	}
	return e.searchWindow(ctx, widened, duration)
}

func (e *Engine) searchWindow(ctx context.Context, window core.Slot, duration time.Duration) ([]core.Slot, error) {
	busy, err := e.cal.Busy(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}
	return avail.FindSlots(window, duration, busy, avail.Options{
		Location:  e.sched.Location(),
		StartHour: e.sched.BusinessStartHour,
		EndHour:   e.sched.BusinessEndHour,
		Buffer:    time.Duration(e.sched.BufferMinutes) * time.Minute,
		MaxSlots:  e.sched.SlotCount,
	}), nil
}

func (e *Engine) respond(ctx context.Context, msg core.Message, result core.HandledResult) error {
	thread, err := e.store.GetThread(ctx, result.ThreadID)
	if err != nil {
		return fmt.Errorf("load thread for reply: %w", err)
	}
	body, err := e.composer.Compose(ctx, result.Action, &thread)
	if err != nil {
		return fmt.Errorf("compose %s: %w", result.Action, err)
	}
	return e.mailbox.Reply(ctx, msg, body)
}

func (e *Engine) notifyBooked(ctx context.Context, thread core.Thread) {
	if thread.SelectedSlot == nil {
		return
	}
	subject := fmt.Sprintf("Meeting booked with %s", thread.Requester)
	body := fmt.Sprintf("Booked %s to %s with %s (event %s).",
		thread.SelectedSlot.Start.In(e.sched.Location()).Format(time.RFC1123),
		thread.SelectedSlot.End.In(e.sched.Location()).Format(time.RFC1123),
		thread.Requester, thread.CalendarEventID)
	if err := e.mailbox.Notify(ctx, subject, body); err != nil {
		log.Printf("engine: notify for %s: %v", thread.ID, err)
	}
}

func (e *Engine) emit(ctx context.Context, kind core.EventType, thread core.Thread) {
	ev, err := e.store.AppendEvent(ctx, core.Event{
		Type:     kind,
		ThreadID: thread.ID,
		State:    thread.State,
	})
	if err != nil {
		log.Printf("engine: append event %s for %s: %v", kind, thread.ID, err)
		return
	}
	if e.bus != nil {
		e.bus.Broadcast(ev)
	}
}

func meetingTitle(thread *core.Thread) string {
	if thread.Subject != "" {
		return thread.Subject
	}
	return "Meeting with " + thread.Requester
}
