// Package notes decides which date-bound notes are active on a date and
// fires their triggers once per activation.
package notes

import (
	"simcal/internal/calendar"
	appLog "simcal/internal/log"
	"simcal/internal/model"
)

// Scheduler evaluates note schedules against one calendar. It holds no
// note state of its own.
type Scheduler struct {
	cal *calendar.Calendar
}

func NewScheduler(cal *calendar.Calendar) *Scheduler {
	return &Scheduler{cal: cal}
}

func (s *Scheduler) Calendar() *calendar.Calendar { return s.cal }

// Occurrence resolves a (possibly recurring) schedule to the concrete
// range relevant at date: the occurrence containing date if there is one,
// otherwise the occurrence of date's period (which may lie ahead).
// Recurrences never produce occurrences before the base start.
func (s *Scheduler) Occurrence(sch Schedule, at model.Date) (start, end model.Date) {
	candidates := make([][2]model.Date, 0, 2)
	for _, c := range s.candidates(sch, at) {
		if s.cal.Compare(c[0], sch.Start) >= 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return sch.Start, sch.End
	}
	for _, c := range candidates {
		if s.classify(c[0], c[1], sch.AllDay, at).Active() {
			return c[0], c[1]
		}
	}
	return candidates[0][0], candidates[0][1]
}

// candidates returns the occurrence for at's period followed by the one
// from the previous period, which may still be running.
func (s *Scheduler) candidates(sch Schedule, at model.Date) [][2]model.Date {
	base := [2]model.Date{sch.Start, sch.End}
	switch sch.Recurrence {
	case Yearly:
		k := at.Year - sch.Start.Year
		return [][2]model.Date{s.shiftYears(base, k), s.shiftYears(base, k-1)}
	case Monthly:
		k := s.monthIndex(at) - s.monthIndex(sch.Start)
		return [][2]model.Date{s.shiftMonths(base, k), s.shiftMonths(base, k-1)}
	case Weekly:
		w := s.cal.WeekdayCount()
		if w == 0 {
			appLog.Debug("notes: weekly recurrence without weekdays; treating as one-off")
			return [][2]model.Date{base}
		}
		k := floorDiv(s.cal.DateToDays(at)-s.cal.DateToDays(sch.Start), w) * w
		return [][2]model.Date{s.shiftDays(base, k), s.shiftDays(base, k-w)}
	default:
		return [][2]model.Date{base}
	}
}

func (s *Scheduler) shiftYears(r [2]model.Date, k int) [2]model.Date {
	for i := range r {
		r[i].Year += k
		r[i], _ = s.cal.Clamp(r[i])
	}
	return r
}

func (s *Scheduler) monthIndex(d model.Date) int {
	return d.Year*s.cal.MonthCount() + d.Month
}

func (s *Scheduler) shiftMonths(r [2]model.Date, k int) [2]model.Date {
	n := s.cal.MonthCount()
	for i := range r {
		idx := s.monthIndex(r[i]) + k
		r[i].Year, r[i].Month = floorDiv(idx, n), idx-floorDiv(idx, n)*n
		r[i], _ = s.cal.Clamp(r[i])
	}
	return r
}

func (s *Scheduler) shiftDays(r [2]model.Date, k int) [2]model.Date {
	for i := range r {
		r[i] = s.cal.AddDays(r[i], k)
	}
	return r
}

// classify compares at with [start, end]. All-day ranges compare whole
// days; timed ranges compare seconds. An end before start is read as a
// single moment at start.
func (s *Scheduler) classify(start, end model.Date, allDay bool, at model.Date) Relation {
	var a, lo, hi int64
	if allDay {
		a = int64(s.cal.DateToDays(at))
		lo = int64(s.cal.DateToDays(start))
		hi = int64(s.cal.DateToDays(end))
	} else {
		a = s.cal.DateToSeconds(at)
		lo = s.cal.DateToSeconds(start)
		hi = s.cal.DateToSeconds(end)
	}
	if hi < lo {
		hi = lo
	}

	switch {
	case a < lo:
		return Before
	case a > hi:
		return After
	case lo == hi:
		return Exact
	case a == lo:
		return Start
	case a == hi:
		return End
	default:
		return Middle
	}
}

// Classify resolves recurrence and returns at's relation to the schedule.
func (s *Scheduler) Classify(sch Schedule, at model.Date) Relation {
	start, end := s.Occurrence(sch, at)
	return s.classify(start, end, sch.AllDay, at)
}

// IsActive reports whether n is in effect at date.
func (s *Scheduler) IsActive(n Note, at model.Date) bool {
	return s.Classify(n.Schedule, at).Active()
}

// ActiveFor returns the ids of notes active at date, in input order.
func (s *Scheduler) ActiveFor(notes []Note, at model.Date) []string {
	ids := make([]string, 0)
	for _, n := range notes {
		if s.IsActive(n, at) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// window identifies an occurrence by its start in seconds.
func (s *Scheduler) window(start model.Date, allDay bool) int64 {
	if allDay {
		start = start.DateOnly()
	}
	return s.cal.DateToSeconds(start)
}

// CheckTriggers marks every active, not yet fired note as fired and
// returns one event per newly fired note. With force, active notes fire
// again regardless of their previous state. Calling it twice for the same
// date without force fires nothing the second time.
func (s *Scheduler) CheckTriggers(notes []*Note, at model.Date, force bool) []Fired {
	fired := make([]Fired, 0)
	for _, n := range notes {
		start, end := s.Occurrence(n.Schedule, at)
		if !s.classify(start, end, n.Schedule.AllDay, at).Active() {
			continue
		}
		if n.Trigger.Fired && !force {
			continue
		}
		n.Trigger = Trigger{Fired: true, Window: s.window(start, n.Schedule.AllDay)}
		fired = append(fired, Fired{NoteID: n.ID, Title: n.Title, At: at, Start: start, End: end})
	}
	return fired
}

// ResetRollovers clears the fired flag of recurring notes whose current
// occurrence differs from the one that fired, and returns their ids.
// Non-recurring notes keep their flag.
func (s *Scheduler) ResetRollovers(notes []*Note, at model.Date) []string {
	ids := make([]string, 0)
	for _, n := range notes {
		if !n.Trigger.Fired || n.Schedule.Recurrence == Never || n.Schedule.Recurrence == "" {
			continue
		}
		start, _ := s.Occurrence(n.Schedule, at)
		if s.window(start, n.Schedule.AllDay) != n.Trigger.Window {
			n.Trigger = Trigger{}
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
