// Package avail computes candidate meeting slots from calendar busy data.
// It is purely functional: callers fetch busy intervals and decide what to
// do when no slot fits.
package avail

import (
	"sort"
	"time"

	"github.com/plouffe/rdv/internal/core"
)

// Options bound the search. Hours are interpreted in Location.
type Options struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	Buffer    time.Duration // padding applied around every busy interval
	MaxSlots  int
}

// FindSlots returns up to MaxSlots non-overlapping slots of exactly duration
// inside window, restricted to business hours on weekdays and clear of the
// busy intervals. Results are ordered by start time. Intervals are half-open,
// so a slot may begin exactly when a busy interval ends.
func FindSlots(window core.Slot, duration time.Duration, busy []core.Slot, opts Options) []core.Slot {
	if duration <= 0 || !window.End.After(window.Start) {
		return nil
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	maxSlots := opts.MaxSlots
	if maxSlots <= 0 {
		maxSlots = 3
	}

	blocked := mergePadded(busy, opts.Buffer)

	var out []core.Slot
	start := window.Start.In(loc)
	for day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc); day.Before(window.End); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), opts.StartHour, 0, 0, 0, loc)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), opts.EndHour, 0, 0, 0, loc)
		if dayStart.Before(window.Start) {
			dayStart = window.Start.In(loc)
		}
		if dayEnd.After(window.End) {
			dayEnd = window.End.In(loc)
		}
		if !dayEnd.After(dayStart) {
			continue
		}

		cursor := dayStart
		for _, b := range blocked {
			if !b.End.After(dayStart) {
				continue
			}
			if !dayEnd.After(b.Start) {
				break
			}
			if cursor.Before(b.Start) {
				out = fill(out, cursor, b.Start, duration, maxSlots)
				if len(out) >= maxSlots {
					return out
				}
			}
			if b.End.After(cursor) {
				cursor = b.End.In(loc)
			}
		}
		if cursor.Before(dayEnd) {
			out = fill(out, cursor, dayEnd, duration, maxSlots)
			if len(out) >= maxSlots {
				return out
			}
		}
	}
	return out
}

// fill appends back-to-back slots of length d inside [from, to).
func fill(out []core.Slot, from, to time.Time, d time.Duration, max int) []core.Slot {
	for s := from; !s.Add(d).After(to) && len(out) < max; s = s.Add(d) {
		out = append(out, core.Slot{Start: s, End: s.Add(d)})
	}
	return out
}

// mergePadded pads every busy interval by buffer on both sides, then merges
// overlapping intervals into a sorted minimal set.
func mergePadded(busy []core.Slot, buffer time.Duration) []core.Slot {
	if len(busy) == 0 {
		return nil
	}
	padded := make([]core.Slot, 0, len(busy))
	for _, b := range busy {
		if !b.End.After(b.Start) {
			continue
		}
		padded = append(padded, core.Slot{Start: b.Start.Add(-buffer), End: b.End.Add(buffer)})
	}
	sort.Slice(padded, func(i, j int) bool { return padded[i].Start.Before(padded[j].Start) })

	merged := padded[:0]
	for _, b := range padded {
		if n := len(merged); n > 0 && !b.Start.After(merged[n-1].End) {
			if b.End.After(merged[n-1].End) {
				merged[n-1].End = b.End
			}
			continue
		}
		merged = append(merged, b)
	}
	return merged
}
