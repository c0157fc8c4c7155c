// Package ics turns the note book into an iCalendar feed and back.
//
// In-world dates cannot be expressed as DTSTART/DTEND, so they travel in
// X-SIMCAL-* properties. RRULE carries the recurrence frequency only.
package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"simcal/internal/model"
	"simcal/internal/notes"
)

const ProductID = "-//simcal//notes//EN"

const (
	propStart  = ical.ComponentProperty("X-SIMCAL-START")
	propEnd    = ical.ComponentProperty("X-SIMCAL-END")
	propAllDay = ical.ComponentProperty("X-SIMCAL-ALLDAY")
)

// dateLayout uses slashes so negative years stay unambiguous.
const dateLayout = "%d/%d/%d %02d:%02d:%02d"

func formatDate(d model.Date) string {
	return fmt.Sprintf(dateLayout, d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

func parseDate(v string) (model.Date, error) {
	var d model.Date
	if _, err := fmt.Sscanf(v, "%d/%d/%d %d:%d:%d", &d.Year, &d.Month, &d.Day, &d.Hour, &d.Minute, &d.Second); err != nil {
		return model.Date{}, fmt.Errorf("ics: bad date %q: %w", v, err)
	}
	return d, nil
}

var freqFor = map[notes.Recurrence]rrule.Frequency{
	notes.Weekly:  rrule.WEEKLY,
	notes.Monthly: rrule.MONTHLY,
	notes.Yearly:  rrule.YEARLY,
}

// Export serializes list as a VCALENDAR with one VEVENT per note. stamp
// becomes every event's DTSTAMP.
func Export(list []notes.Note, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)

	for _, n := range list {
		ev := cal.AddEvent(n.ID)
		ev.SetDtStampTime(stamp)
		ev.SetSummary(n.Title)
		ev.SetProperty(propStart, formatDate(n.Schedule.Start))
		ev.SetProperty(propEnd, formatDate(n.Schedule.End))
		if n.Schedule.AllDay {
			ev.SetProperty(propAllDay, "TRUE")
		}
		if freq, ok := freqFor[n.Schedule.Recurrence]; ok {
			opt := rrule.ROption{Freq: freq}
			ev.SetProperty(ical.ComponentPropertyRrule, opt.RRuleString())
		}
	}
	return cal.Serialize()
}
