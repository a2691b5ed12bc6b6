// Package intent turns raw inbound mail into a typed interpretation the
// negotiation engine can act on.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/llm"
)

// Classifier asks the model for a structured reading of one message.
// Classification is stateless per message; conversation context is supplied
// by the caller through the thread snapshot.
type Classifier struct {
	model llm.Model
	loc   *time.Location
	now   func() time.Time
}

func NewClassifier(model llm.Model, loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{model: model, loc: loc, now: time.Now}
}

const systemPrompt = `You are the intent classifier of an email meeting scheduler.
Read one inbound email and answer with a single JSON object, nothing else.

Schema:
{
  "kind": "new_request" | "slot_selection" | "confirmation" | "reschedule" | "cancellation" | "irrelevant",
  "duration_minutes": <int, new_request only, 0 if unstated>,
  "window_start": "<RFC3339, new_request only, empty if unstated>",
  "window_end": "<RFC3339, new_request only, empty if unstated>",
  "meeting_mode": "online" | "in_person" | "",
  "slot_index": <int, 1-based index into the proposed slots, 0 if none>,
  "slot_start": "<RFC3339 explicit pick, empty if none>",
  "ambiguous": <true when a selection cannot be resolved to exactly one slot>
}

Rules:
- "confirmation" is an affirmative answer to a recap question; a negative
  answer or a request for different times is "reschedule".
- A message that mentions no scheduling topic at all is "irrelevant".
- Never invent times the sender did not state.`

// Classify interprets msg in the context of thread (nil for first contact).
// On model failure or malformed output it returns an irrelevant intent along
// with the error so the caller can log and move on.
func (c *Classifier) Classify(ctx context.Context, msg core.Message, thread *core.Thread) (core.Intent, error) {
	raw, err := c.model.Infer(ctx, systemPrompt, c.buildPrompt(msg, thread))
	if err != nil {
		return core.Intent{Kind: core.IntentIrrelevant}, err
	}
	intent, err := c.parse(raw, thread)
	if err != nil {
		return core.Intent{Kind: core.IntentIrrelevant}, &core.ModelError{Err: err}
	}
	return intent, nil
}

func (c *Classifier) buildPrompt(msg core.Message, thread *core.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", c.now().In(c.loc).Format(time.RFC3339))
	if thread != nil {
		fmt.Fprintf(&b, "Conversation state: %s\n", thread.State)
		if len(thread.ProposedSlots) > 0 {
			b.WriteString("Proposed slots:\n")
			for i, slot := range thread.ProposedSlots {
				fmt.Fprintf(&b, "  %d. %s to %s\n", i+1,
					slot.Start.In(c.loc).Format(time.RFC3339),
					slot.End.In(c.loc).Format(time.RFC3339))
			}
		}
		if thread.SelectedSlot != nil {
			fmt.Fprintf(&b, "Slot awaiting confirmation: %s to %s\n",
				thread.SelectedSlot.Start.In(c.loc).Format(time.RFC3339),
				thread.SelectedSlot.End.In(c.loc).Format(time.RFC3339))
		}
	} else {
		b.WriteString("Conversation state: first contact\n")
	}
	fmt.Fprintf(&b, "\nFrom: %s\nSubject: %s\n\n%s\n", msg.From, msg.Subject, msg.Body)
	return b.String()
}

type wireIntent struct {
	Kind            string `json:"kind"`
	DurationMinutes int    `json:"duration_minutes"`
	WindowStart     string `json:"window_start"`
	WindowEnd       string `json:"window_end"`
	MeetingMode     string `json:"meeting_mode"`
	SlotIndex       int    `json:"slot_index"`
	SlotStart       string `json:"slot_start"`
	Ambiguous       bool   `json:"ambiguous"`
}

var validKinds = map[core.IntentKind]bool{
	core.IntentNewRequest:    true,
	core.IntentSlotSelection: true,
	core.IntentConfirmation:  true,
	core.IntentReschedule:    true,
	core.IntentCancellation:  true,
	core.IntentIrrelevant:    true,
}

func (c *Classifier) parse(raw string, thread *core.Thread) (core.Intent, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return core.Intent{}, err
	}
	var w wireIntent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return core.Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	kind := core.IntentKind(w.Kind)
	if !validKinds[kind] {
		return core.Intent{}, fmt.Errorf("unknown intent kind %q", w.Kind)
	}

	intent := core.Intent{
		Kind:        kind,
		MeetingMode: w.MeetingMode,
		Ambiguous:   w.Ambiguous,
	}

	switch kind {
	case core.IntentNewRequest, core.IntentReschedule:
		if w.DurationMinutes > 0 {
			intent.Duration = time.Duration(w.DurationMinutes) * time.Minute
		}
		if w.WindowStart != "" {
			t, err := time.Parse(time.RFC3339, w.WindowStart)
			if err != nil {
				return core.Intent{}, fmt.Errorf("window_start: %w", err)
			}
			intent.WindowStart = t
		}
		if w.WindowEnd != "" {
			t, err := time.Parse(time.RFC3339, w.WindowEnd)
			if err != nil {
				return core.Intent{}, fmt.Errorf("window_end: %w", err)
			}
			intent.WindowEnd = t
		}
	case core.IntentSlotSelection:
		intent.SlotIndex = w.SlotIndex
		if w.SlotStart != "" {
			t, err := time.Parse(time.RFC3339, w.SlotStart)
			if err != nil {
				return core.Intent{}, fmt.Errorf("slot_start: %w", err)
			}
			intent.Slot = c.matchSlot(t, thread)
			if intent.Slot == nil && intent.SlotIndex == 0 {
				intent.Ambiguous = true
			}
		}
		if thread != nil && (intent.SlotIndex < 0 || intent.SlotIndex > len(thread.ProposedSlots)) {
			intent.SlotIndex = 0
			intent.Ambiguous = true
		}
	}
	return intent, nil
}

// matchSlot resolves an explicit start time against the proposals. A pick
// that matches nothing stays nil and the selection is treated as ambiguous.
func (c *Classifier) matchSlot(start time.Time, thread *core.Thread) *core.Slot {
	if thread == nil {
		return nil
	}
	for i := range thread.ProposedSlots {
		if thread.ProposedSlots[i].Start.Equal(start) {
			slot := thread.ProposedSlots[i]
			return &slot
		}
	}
	return nil
}

// extractJSON tolerates prose or code fences around the object; the model
// is asked for bare JSON but does not always comply.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in completion")
	}
	return raw[start : end+1], nil
}
