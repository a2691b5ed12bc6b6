package compose

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
}

func (f *fakeModel) Infer(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func proposalThread() *core.Thread {
	day := time.Date(2026, 9, 7, 14, 0, 0, 0, time.UTC)
	return &core.Thread{
		ID:       "t1",
		State:    core.StateAwaitingSelection,
		Duration: 30 * time.Minute,
		ProposedSlots: []core.Slot{
			{Start: day, End: day.Add(30 * time.Minute)},
			{Start: day.Add(2 * time.Hour), End: day.Add(150 * time.Minute)},
		},
	}
}

func TestComposeProposalListsAllSlots(t *testing.T) {
	c, err := New(time.UTC, "Rendezvous")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionPropose, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, want := range []string{
		"1. Monday, September 7 at 2:00 PM",
		"2. Monday, September 7 at 4:00 PM",
		"30 minutes",
		"UTC",
		"Rendezvous",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("proposal body missing %q:\n%s", want, body)
		}
	}
}

func TestComposeConfirmRequestNamesSelectedSlot(t *testing.T) {
	c, err := New(time.UTC, "Rendezvous")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	thread := proposalThread()
	thread.SelectedSlot = &thread.ProposedSlots[1]
	thread.MeetingMode = "in_person"

	body, err := c.Compose(context.Background(), core.ActionConfirmRequest, thread)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(body, "Monday, September 7 at 4:00 PM") {
		t.Errorf("confirmation missing selected slot:\n%s", body)
	}
	if !strings.Contains(body, "in person") {
		t.Errorf("confirmation missing meeting mode:\n%s", body)
	}
}

func TestComposeRendersTimesInConfiguredZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	c, err := New(loc, "Rendezvous")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionPropose, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	// 14:00 UTC is 10:00 in Toronto during DST.
	if !strings.Contains(body, "10:00 AM") {
		t.Errorf("body not rendered in configured zone:\n%s", body)
	}
}

func TestComposeUnknownActionFails(t *testing.T) {
	c, err := New(time.UTC, "Rendezvous")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Compose(context.Background(), core.ActionNone, proposalThread()); err == nil {
		t.Fatal("expected error for action without template")
	}
}

func TestRephraseKeepsPolishedTextWhenFactsSurvive(t *testing.T) {
	polished := "Hello! Monday, September 7 at 2:00 PM or Monday, September 7 at 4:00 PM, your pick."
	c, err := New(time.UTC, "Rendezvous", WithModel(&fakeModel{reply: polished}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionPropose, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if body != polished {
		t.Errorf("polished text not used:\n%s", body)
	}
}

func TestRephraseFallsBackWhenFactDropped(t *testing.T) {
	c, err := New(time.UTC, "Rendezvous", WithModel(&fakeModel{reply: "Sure, any time works!"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionPropose, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(body, "Monday, September 7 at 2:00 PM") {
		t.Errorf("fallback draft missing slot:\n%s", body)
	}
}

func TestRephraseFallsBackOnModelError(t *testing.T) {
	c, err := New(time.UTC, "Rendezvous", WithModel(&fakeModel{err: errors.New("down")}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionDeclined, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(body, "will not schedule") {
		t.Errorf("fallback draft unexpected:\n%s", body)
	}
}

func TestCustomTemplatesOverrideDefaults(t *testing.T) {
	custom := []byte("declined: |\n  custom decline from {{.Signature}}\n")
	c, err := New(time.UTC, "Rendezvous", WithTemplates(custom))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Compose(context.Background(), core.ActionDeclined, proposalThread())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(body, "custom decline from Rendezvous") {
		t.Errorf("custom template not used:\n%s", body)
	}
}
