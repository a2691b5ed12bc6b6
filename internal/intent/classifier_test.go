package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/plouffe/rdv/internal/core"
)

type fakeModel struct {
	reply string
	err   error
	// captured inputs for prompt assertions
	system string
	prompt string
}

func (f *fakeModel) Infer(_ context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testThread() *core.Thread {
	day := time.Date(2026, 9, 7, 14, 0, 0, 0, time.UTC)
	return &core.Thread{
		ID:           "t1",
		MailThreadID: "mt1",
		State:        core.StateAwaitingSelection,
		ProposedSlots: []core.Slot{
			{Start: day, End: day.Add(30 * time.Minute)},
			{Start: day.Add(time.Hour), End: day.Add(90 * time.Minute)},
		},
	}
}

func TestClassifyNewRequest(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"new_request","duration_minutes":45,"window_start":"2026-09-07T00:00:00Z","window_end":"2026-09-11T00:00:00Z","meeting_mode":"online"}`}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "can we meet?"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if intent.Kind != core.IntentNewRequest {
		t.Fatalf("kind = %q, want new_request", intent.Kind)
	}
	if intent.Duration != 45*time.Minute {
		t.Errorf("duration = %v, want 45m", intent.Duration)
	}
	if intent.WindowStart.IsZero() || intent.WindowEnd.IsZero() {
		t.Error("window not parsed")
	}
	if intent.MeetingMode != "online" {
		t.Errorf("mode = %q, want online", intent.MeetingMode)
	}
}

func TestClassifySlotSelectionByIndex(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"slot_selection","slot_index":2}`}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "option 2 works"}, testThread())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if intent.Kind != core.IntentSlotSelection || intent.SlotIndex != 2 {
		t.Fatalf("got kind=%q index=%d, want slot_selection index 2", intent.Kind, intent.SlotIndex)
	}
	if intent.Ambiguous {
		t.Error("in-range index marked ambiguous")
	}
}

func TestClassifySlotSelectionByExplicitTime(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"slot_selection","slot_start":"2026-09-07T15:00:00Z"}`}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "3pm please"}, testThread())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if intent.Slot == nil {
		t.Fatal("explicit time did not resolve to a proposed slot")
	}
	if !intent.Slot.Start.Equal(time.Date(2026, 9, 7, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("resolved wrong slot: %v", intent.Slot.Start)
	}
}

func TestClassifyExplicitTimeOutsideProposalsIsAmbiguous(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"slot_selection","slot_start":"2026-09-07T09:00:00Z"}`}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "9am?"}, testThread())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !intent.Ambiguous {
		t.Error("unmatched explicit pick should be ambiguous")
	}
	if intent.Slot != nil {
		t.Error("unmatched pick should not resolve to a slot")
	}
}

func TestClassifyIndexOutOfRangeIsAmbiguous(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"slot_selection","slot_index":7}`}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "option 7"}, testThread())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !intent.Ambiguous || intent.SlotIndex != 0 {
		t.Errorf("got index=%d ambiguous=%v, want 0/true", intent.SlotIndex, intent.Ambiguous)
	}
}

func TestClassifyToleratesFencedJSON(t *testing.T) {
	model := &fakeModel{reply: "Sure, here is the classification:\n```json\n{\"kind\":\"cancellation\"}\n```"}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "forget it"}, testThread())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if intent.Kind != core.IntentCancellation {
		t.Fatalf("kind = %q, want cancellation", intent.Kind)
	}
}

func TestClassifyModelFailureFallsBackToIrrelevant(t *testing.T) {
	model := &fakeModel{err: &core.ModelError{Err: errors.New("boom")}}
	c := NewClassifier(model, time.UTC)

	intent, err := c.Classify(context.Background(), core.Message{Body: "hi"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if intent.Kind != core.IntentIrrelevant {
		t.Fatalf("kind = %q, want irrelevant fallback", intent.Kind)
	}
}

func TestClassifyGarbageOutputFallsBackToIrrelevant(t *testing.T) {
	for _, reply := range []string{"not json at all", `{"kind":"party"}`, `{"kind":`} {
		model := &fakeModel{reply: reply}
		c := NewClassifier(model, time.UTC)
		intent, err := c.Classify(context.Background(), core.Message{Body: "hi"}, nil)
		if err == nil {
			t.Errorf("reply %q: expected error", reply)
		}
		var modelErr *core.ModelError
		if !errors.As(err, &modelErr) {
			t.Errorf("reply %q: error %v is not a ModelError", reply, err)
		}
		if intent.Kind != core.IntentIrrelevant {
			t.Errorf("reply %q: kind = %q, want irrelevant", reply, intent.Kind)
		}
	}
}

func TestPromptCarriesThreadContext(t *testing.T) {
	model := &fakeModel{reply: `{"kind":"irrelevant"}`}
	c := NewClassifier(model, time.UTC)

	if _, err := c.Classify(context.Background(), core.Message{Body: "x"}, testThread()); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, want := range []string{"awaiting_selection", "2026-09-07T14:00:00Z", "2026-09-07T15:00:00Z"} {
		if !strings.Contains(model.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
