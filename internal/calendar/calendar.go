// Package calendar converts between structured in-world dates and linear
// day/second counts under a configurable calendar definition.
//
// Two day totals exist per year. The display total counts every month and
// backs DateToDays, DaysToDate and everything built on seconds. The weekday
// total leaves out intercalary months that are not flagged as included and
// is used only for weekday computation.
package calendar

import (
	"math"

	appLog "simcal/internal/log"
	"simcal/internal/model"
)

// Calendar is the arithmetic engine for one Definition. It is immutable
// and safe for concurrent use.
type Calendar struct {
	def Definition

	// Days per normal/leap year, display total and weekday total.
	normal, leap         int
	weekNormal, weekLeap int
}

// New validates def and returns a Calendar for it.
func New(def Definition) (*Calendar, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	c := &Calendar{def: def.clone()}
	c.normal = c.DaysInYear(false, true)
	c.leap = c.DaysInYear(true, true)
	c.weekNormal = c.DaysInYear(false, false)
	c.weekLeap = c.DaysInYear(true, false)
	return c, nil
}

// Load is New with a fallback: an invalid definition yields the Gregorian
// calendar together with the validation error, so the caller can report
// the problem and keep running.
func Load(def Definition) (*Calendar, error) {
	c, err := New(def)
	if err == nil {
		return c, nil
	}
	appLog.Error("calendar definition rejected; using Gregorian default", err, "name", def.Name)
	fallback, ferr := New(Gregorian())
	if ferr != nil {
		// Gregorian() is a constant; this is a programming error.
		panic(ferr)
	}
	return fallback, err
}

// MustNew is New for definitions known to be valid (tests, built-ins).
func MustNew(def Definition) *Calendar {
	c, err := New(def)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calendar) Definition() Definition { return c.def.clone() }
func (c *Calendar) Name() string           { return c.def.Name }
func (c *Calendar) MonthCount() int        { return len(c.def.Months) }
func (c *Calendar) WeekdayCount() int      { return len(c.def.Weekdays) }
func (c *Calendar) Time() TimeUnits        { return c.def.Time }
func (c *Calendar) SecondsPerDay() int     { return c.def.Time.SecondsPerDay() }

// Month returns the definition of month index i (clamped into range).
func (c *Calendar) Month(i int) Month {
	return c.def.Months[clampInt(i, 0, len(c.def.Months)-1)]
}

// WeekdayAt returns the weekday definition at index i (wrapping), or the
// zero Weekday when the calendar has none.
func (c *Calendar) WeekdayAt(i int) Weekday {
	if len(c.def.Weekdays) == 0 {
		return Weekday{}
	}
	return c.def.Weekdays[floorMod(i, len(c.def.Weekdays))]
}

// IsLeapYear applies the definition's leap-year rule.
func (c *Calendar) IsLeapYear(year int) bool {
	switch c.def.LeapYear.Kind {
	case LeapFixed:
		return year%4 == 0 && (year%100 != 0 || year%400 == 0)
	case LeapCustom:
		return floorMod(year, c.def.LeapYear.Modulus) == 0
	default:
		return false
	}
}

// DaysInYear sums month lengths for a leap or normal year. With
// includeExcluded=false, intercalary months not flagged as included are
// skipped (the weekday-relevant total).
func (c *Calendar) DaysInYear(leap, includeExcluded bool) int {
	total := 0
	for _, m := range c.def.Months {
		if !includeExcluded && m.excluded() {
			continue
		}
		total += m.days(leap)
	}
	return total
}

// TotalDaysInYear is DaysInYear for a concrete year.
func (c *Calendar) TotalDaysInYear(year int, includeExcluded bool) int {
	return c.DaysInYear(c.IsLeapYear(year), includeExcluded)
}

// MonthDays returns the number of days of month index m in year.
func (c *Calendar) MonthDays(year, m int) int {
	if m < 0 || m >= len(c.def.Months) {
		return 0
	}
	return c.def.Months[m].days(c.IsLeapYear(year))
}

// leapYearsBefore counts leap years in [0, year) for positive years and
// the negated count in [year, 0) for negative ones.
func (c *Calendar) leapYearsBefore(year int) int {
	multiples := func(m int) int { return floorDiv(year-1, m) + 1 }
	switch c.def.LeapYear.Kind {
	case LeapFixed:
		return multiples(4) - multiples(100) + multiples(400)
	case LeapCustom:
		return multiples(c.def.LeapYear.Modulus)
	default:
		return 0
	}
}

func (c *Calendar) leapFraction() float64 {
	switch c.def.LeapYear.Kind {
	case LeapFixed:
		return 97.0 / 400.0
	case LeapCustom:
		return 1.0 / float64(c.def.LeapYear.Modulus)
	default:
		return 0
	}
}

func (c *Calendar) daysBeforeYear(year int, includeExcluded bool) int {
	normal, leap := c.normal, c.leap
	if !includeExcluded {
		normal, leap = c.weekNormal, c.weekLeap
	}
	return normal*year + c.leapYearsBefore(year)*(leap-normal)
}

func (c *Calendar) daysBeforeMonth(year, month int, includeExcluded bool) int {
	leap := c.IsLeapYear(year)
	total := 0
	for i := 0; i < month && i < len(c.def.Months); i++ {
		m := c.def.Months[i]
		if !includeExcluded && m.excluded() {
			continue
		}
		total += m.days(leap)
	}
	return total
}

// DateToDays returns the linear day count of d, ignoring time of day.
// Out-of-range dates are clamped first.
func (c *Calendar) DateToDays(d model.Date) int {
	d, _ = c.Clamp(d)
	return c.daysBeforeYear(d.Year, true) + c.daysBeforeMonth(d.Year, d.Month, true) + d.Day
}

// DaysToDate is the inverse of DateToDays. Any integer maps to a valid
// date; the time of day is zero.
func (c *Calendar) DaysToDate(days int) model.Date {
	avg := float64(c.normal) + float64(c.leap-c.normal)*c.leapFraction()
	year := int(math.Floor(float64(days) / avg))
	for c.daysBeforeYear(year, true) > days {
		year--
	}
	for c.daysBeforeYear(year+1, true) <= days {
		year++
	}

	rem := days - c.daysBeforeYear(year, true)
	leap := c.IsLeapYear(year)
	for i, m := range c.def.Months {
		n := m.days(leap)
		if rem < n {
			return model.Date{Year: year, Month: i, Day: rem}
		}
		rem -= n
	}
	// Unreachable for validated definitions: rem < days in year.
	return c.MonthEnd(year, len(c.def.Months)-1)
}

// Weekday returns the weekday index of d in [0, WeekdayCount()), or -1
// when the definition has no weekdays or d falls in an intercalary month
// that stands outside the week.
func (c *Calendar) Weekday(d model.Date) int {
	w := len(c.def.Weekdays)
	if w == 0 {
		return -1
	}
	d, _ = c.Clamp(d)
	if c.def.Months[d.Month].excluded() {
		return -1
	}
	days := c.daysBeforeYear(d.Year, false) + c.daysBeforeMonth(d.Year, d.Month, false) + d.Day
	return floorMod(days+c.def.FirstWeekday, w)
}

// TimeToSeconds converts a time of day to seconds since midnight.
func (c *Calendar) TimeToSeconds(hour, minute, second int) int {
	t := c.def.Time
	return (hour*t.MinutesPerHour+minute)*t.SecondsPerMinute + second
}

// SecondsToTime splits a second count into hour, minute and second. Values
// outside one day wrap (floor modulo), so negative input is valid.
func (c *Calendar) SecondsToTime(total int) (hour, minute, second int) {
	t := c.def.Time
	s := floorMod(total, t.SecondsPerDay())
	hour = s / t.SecondsPerHour()
	minute = (s / t.SecondsPerMinute) % t.MinutesPerHour
	second = s % t.SecondsPerMinute
	return hour, minute, second
}

// DateToSeconds returns seconds since the epoch (day 0, 00:00:00).
func (c *Calendar) DateToSeconds(d model.Date) int64 {
	d, _ = c.Clamp(d)
	spd := int64(c.SecondsPerDay())
	return int64(c.DateToDays(d))*spd + int64(c.TimeToSeconds(d.Hour, d.Minute, d.Second))
}

// SecondsToDate is the inverse of DateToSeconds.
func (c *Calendar) SecondsToDate(seconds int64) model.Date {
	spd := int64(c.SecondsPerDay())
	days := seconds / spd
	rem := seconds % spd
	if rem < 0 {
		rem += spd
		days--
	}
	d := c.DaysToDate(int(days))
	d.Hour, d.Minute, d.Second = c.SecondsToTime(int(rem))
	return d
}

// AddDays moves d by n days keeping its time of day.
func (c *Calendar) AddDays(d model.Date, n int) model.Date {
	out := c.DaysToDate(c.DateToDays(d) + n)
	out.Hour, out.Minute, out.Second = d.Hour, d.Minute, d.Second
	return out
}

// Compare orders two dates including time of day: -1, 0 or +1.
func (c *Calendar) Compare(a, b model.Date) int {
	sa, sb := c.DateToSeconds(a), c.DateToSeconds(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// MonthStart returns the first day of month m in year. A month without
// days in that year resolves to the first day of the next month that has
// any (wrapping into the following year).
func (c *Calendar) MonthStart(year, m int) model.Date {
	m = clampInt(m, 0, len(c.def.Months)-1)
	for {
		for i := m; i < len(c.def.Months); i++ {
			if c.MonthDays(year, i) > 0 {
				return model.Date{Year: year, Month: i}
			}
		}
		year, m = year+1, 0
	}
}

// MonthEnd returns the last day of month m in year, skipping backwards
// over months without days.
func (c *Calendar) MonthEnd(year, m int) model.Date {
	m = clampInt(m, 0, len(c.def.Months)-1)
	for {
		for i := m; i >= 0; i-- {
			if n := c.MonthDays(year, i); n > 0 {
				return model.Date{Year: year, Month: i, Day: n - 1}
			}
		}
		year, m = year-1, len(c.def.Months)-1
	}
}

// Clamp moves d to the nearest valid date and time. The second result
// reports whether anything changed; adjustments are logged.
func (c *Calendar) Clamp(d model.Date) (model.Date, bool) {
	in := d
	d.Month = clampInt(d.Month, 0, len(c.def.Months)-1)
	if c.MonthDays(d.Year, d.Month) == 0 {
		next := c.MonthStart(d.Year, d.Month)
		if next.Year == d.Year {
			d.Month, d.Day = next.Month, 0
		} else {
			prev := c.MonthEnd(d.Year, d.Month)
			d.Month, d.Day = prev.Month, prev.Day
		}
	}
	d.Day = clampInt(d.Day, 0, c.MonthDays(d.Year, d.Month)-1)

	t := c.def.Time
	d.Hour = clampInt(d.Hour, 0, t.HoursPerDay-1)
	d.Minute = clampInt(d.Minute, 0, t.MinutesPerHour-1)
	d.Second = clampInt(d.Second, 0, t.SecondsPerMinute-1)

	if d != in {
		appLog.Debug("calendar: clamped date", "from", in, "to", d, "calendar", c.def.Name)
		return d, true
	}
	return d, false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return ((a % b) + b) % b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
