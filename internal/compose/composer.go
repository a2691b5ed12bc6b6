// Package compose renders outbound replies. Every factual element of a
// reply (times, duration, mode) comes from the thread record; the optional
// model pass only smooths the wording and is discarded if it drops a fact.
package compose

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/llm"
)

//go:embed templates.yaml
var defaultTemplates []byte

const slotFormat = "Monday, January 2 at 3:04 PM"

// Composer renders one reply body per engine action.
type Composer struct {
	templates map[core.ActionType]*template.Template
	model     llm.Model
	loc       *time.Location
	signature string
}

// Option configures a Composer.
type Option func(*Composer)

// WithModel enables the rephrasing pass.
func WithModel(m llm.Model) Option {
	return func(c *Composer) { c.model = m }
}

// WithTemplates overlays operator-provided YAML templates on the embedded
// defaults. Actions absent from the override keep their default wording.
func WithTemplates(raw []byte) Option {
	return func(c *Composer) {
		parsed, err := parseTemplates(raw)
		if err != nil {
			log.Printf("composer: custom templates rejected, keeping defaults: %v", err)
			return
		}
		for action, tmpl := range parsed {
			c.templates[action] = tmpl
		}
	}
}

func New(loc *time.Location, signature string, opts ...Option) (*Composer, error) {
	if loc == nil {
		loc = time.UTC
	}
	templates, err := parseTemplates(defaultTemplates)
	if err != nil {
		return nil, fmt.Errorf("embedded templates: %w", err)
	}
	c := &Composer{templates: templates, loc: loc, signature: signature}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseTemplates(raw []byte) (map[core.ActionType]*template.Template, error) {
	var byName map[string]string
	if err := yaml.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
	out := make(map[core.ActionType]*template.Template, len(byName))
	for name, body := range byName {
		tmpl, err := template.New(name).Funcs(funcs).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out[core.ActionType(name)] = tmpl
	}
	return out, nil
}

type templateData struct {
	Slots           []string
	Selected        string
	DurationMinutes int
	Mode            string
	Timezone        string
	Signature       string
}

// Compose renders the reply body for action against the thread snapshot.
func (c *Composer) Compose(ctx context.Context, action core.ActionType, thread *core.Thread) (string, error) {
	tmpl, ok := c.templates[action]
	if !ok {
		return "", fmt.Errorf("no template for action %q", action)
	}

	data := templateData{
		DurationMinutes: int(thread.Duration.Minutes()),
		Mode:            modeLabel(thread.MeetingMode),
		Timezone:        c.loc.String(),
		Signature:       c.signature,
	}
	for _, slot := range thread.ProposedSlots {
		data.Slots = append(data.Slots, slot.Start.In(c.loc).Format(slotFormat))
	}
	if thread.SelectedSlot != nil {
		data.Selected = thread.SelectedSlot.Start.In(c.loc).Format(slotFormat)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", action, err)
	}
	draft := b.String()

	if c.model == nil {
		return draft, nil
	}
	return c.rephrase(ctx, draft, data), nil
}

const rephraseSystem = `You polish short scheduling emails. Rewrite the draft
to sound natural and warm. You must keep every date, time, duration and
option number exactly as written. Answer with the email body only.`

// rephrase runs the model pass and verifies no fact went missing. Any
// failure falls back to the template draft.
func (c *Composer) rephrase(ctx context.Context, draft string, data templateData) string {
	polished, err := c.model.Infer(ctx, rephraseSystem, draft)
	if err != nil {
		log.Printf("composer: rephrase failed, using draft: %v", err)
		return draft
	}
	for _, fact := range append(data.Slots, data.Selected) {
		if fact != "" && !strings.Contains(polished, fact) {
			log.Printf("composer: rephrase dropped %q, using draft", fact)
			return draft
		}
	}
	return polished
}

func modeLabel(mode string) string {
	switch mode {
	case "online":
		return "online"
	case "in_person":
		return "in person"
	default:
		return ""
	}
}
