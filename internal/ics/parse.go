package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "simcal/internal/log"
	"simcal/internal/notes"
)

// Import parses a feed produced by Export (or hand-written in the same
// shape). Events that cannot be read are logged and skipped; fired state
// is never imported.
func Import(body []byte) ([]notes.Note, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	out := make([]notes.Note, 0)
	for _, ve := range cal.Events() {
		n, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr)
			continue
		}
		out = append(out, n)
	}

	appLog.Info("ics import completed", "note_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (notes.Note, error) {
	var n notes.Note

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return n, errors.New("missing UID")
	}
	n.ID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		n.Title = p.Value
	}

	start := ve.GetProperty(propStart)
	if start == nil {
		return n, fmt.Errorf("event %s: missing %s", n.ID, propStart)
	}
	d, err := parseDate(start.Value)
	if err != nil {
		return n, err
	}
	n.Schedule.Start = d
	n.Schedule.End = d

	if p := ve.GetProperty(propEnd); p != nil {
		if n.Schedule.End, err = parseDate(p.Value); err != nil {
			return n, err
		}
	}
	if p := ve.GetProperty(propAllDay); p != nil {
		n.Schedule.AllDay = strings.EqualFold(strings.TrimSpace(p.Value), "TRUE")
	}

	n.Schedule.Recurrence = notes.Never
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		if n.Schedule.Recurrence, err = recurrenceFrom(p.Value); err != nil {
			return n, fmt.Errorf("event %s: %w", n.ID, err)
		}
	}
	return n, nil
}

func recurrenceFrom(rule string) (notes.Recurrence, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return notes.Never, err
	}
	switch opt.Freq {
	case rrule.WEEKLY:
		return notes.Weekly, nil
	case rrule.MONTHLY:
		return notes.Monthly, nil
	case rrule.YEARLY:
		return notes.Yearly, nil
	default:
		return notes.Never, fmt.Errorf("unsupported RRULE %q", rule)
	}
}
