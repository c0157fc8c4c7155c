package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDefinition is wrapped by every Validate failure.
	ErrInvalidDefinition = errors.New("calendar: invalid definition")

	// ErrNoWeekdays is wrapped (with ErrInvalidDefinition) when a
	// definition without weekdays sets a weekday-dependent option.
	ErrNoWeekdays = errors.New("calendar: definition has no weekdays")
)

// LeapKind selects how leap years are determined.
type LeapKind string

const (
	LeapNone   LeapKind = "none"
	LeapFixed  LeapKind = "fixed" // Gregorian rule
	LeapCustom LeapKind = "custom"
)

// LeapRule is the leap-year policy of a definition. Modulus is only read
// for LeapCustom.
type LeapRule struct {
	Kind    LeapKind `yaml:"kind" json:"kind"`
	Modulus int      `yaml:"modulus,omitempty" json:"modulus,omitempty"`
}

// TimeUnits describes how a day is subdivided.
type TimeUnits struct {
	HoursPerDay      int `yaml:"hours_per_day" json:"hours_per_day"`
	MinutesPerHour   int `yaml:"minutes_per_hour" json:"minutes_per_hour"`
	SecondsPerMinute int `yaml:"seconds_per_minute" json:"seconds_per_minute"`
}

func (t TimeUnits) SecondsPerDay() int {
	return t.HoursPerDay * t.MinutesPerHour * t.SecondsPerMinute
}

func (t TimeUnits) SecondsPerHour() int {
	return t.MinutesPerHour * t.SecondsPerMinute
}

// Month is one entry of a definition's ordered month list.
type Month struct {
	Name         string `yaml:"name" json:"name"`
	Abbreviation string `yaml:"abbreviation,omitempty" json:"abbreviation,omitempty"`

	// Number is the displayed month number. Intercalary months commonly
	// use negative numbers so they sort outside the regular sequence.
	Number int `yaml:"number" json:"number"`

	// NumberOffset shifts displayed day numbers (day index 0 is shown as
	// 1+NumberOffset).
	NumberOffset int `yaml:"number_offset,omitempty" json:"number_offset,omitempty"`

	Days     int `yaml:"days" json:"days"`
	LeapDays int `yaml:"leap_days" json:"leap_days"`

	// Intercalary months sit outside the regular sequence. Unless
	// IntercalaryIncluded is set they do not count towards weekdays.
	Intercalary         bool `yaml:"intercalary,omitempty" json:"intercalary,omitempty"`
	IntercalaryIncluded bool `yaml:"intercalary_included,omitempty" json:"intercalary_included,omitempty"`
}

// excluded reports whether the month is left out of weekday totals.
func (m Month) excluded() bool {
	return m.Intercalary && !m.IntercalaryIncluded
}

func (m Month) days(leap bool) int {
	if leap {
		return m.LeapDays
	}
	return m.Days
}

type Weekday struct {
	Name         string `yaml:"name" json:"name"`
	Abbreviation string `yaml:"abbreviation,omitempty" json:"abbreviation,omitempty"`
}

// Definition is the complete, read-only description of a calendar.
type Definition struct {
	Name     string    `yaml:"name" json:"name"`
	Months   []Month   `yaml:"months" json:"months"`
	Weekdays []Weekday `yaml:"weekdays" json:"weekdays"`
	LeapYear LeapRule  `yaml:"leap_year" json:"leap_year"`
	Time     TimeUnits `yaml:"time" json:"time"`

	// FirstWeekday is the weekday index of linear day 0.
	FirstWeekday int `yaml:"first_weekday,omitempty" json:"first_weekday,omitempty"`
}

// Validate checks the structural invariants the arithmetic relies on.
func (d Definition) Validate() error {
	if len(d.Months) == 0 {
		return fmt.Errorf("%w: no months", ErrInvalidDefinition)
	}
	if d.Time.HoursPerDay <= 0 || d.Time.MinutesPerHour <= 0 || d.Time.SecondsPerMinute <= 0 {
		return fmt.Errorf("%w: time units must be positive (got %d/%d/%d)", ErrInvalidDefinition,
			d.Time.HoursPerDay, d.Time.MinutesPerHour, d.Time.SecondsPerMinute)
	}
	for i, m := range d.Months {
		if m.Days < 0 || m.LeapDays < 0 {
			return fmt.Errorf("%w: month %d (%q) has a negative day count", ErrInvalidDefinition, i, m.Name)
		}
	}

	switch d.LeapYear.Kind {
	case LeapNone, LeapFixed:
	case LeapCustom:
		if d.LeapYear.Modulus < 1 {
			return fmt.Errorf("%w: custom leap rule needs modulus >= 1 (got %d)", ErrInvalidDefinition, d.LeapYear.Modulus)
		}
	default:
		return fmt.Errorf("%w: unknown leap rule %q", ErrInvalidDefinition, d.LeapYear.Kind)
	}

	normal, leap := 0, 0
	for _, m := range d.Months {
		normal += m.Days
		leap += m.LeapDays
	}
	if normal <= 0 {
		return fmt.Errorf("%w: a normal year has no days", ErrInvalidDefinition)
	}
	if d.LeapYear.Kind != LeapNone && leap <= 0 {
		return fmt.Errorf("%w: a leap year has no days", ErrInvalidDefinition)
	}

	if len(d.Weekdays) == 0 && d.FirstWeekday != 0 {
		return fmt.Errorf("%w: %w: first weekday %d set", ErrInvalidDefinition, ErrNoWeekdays, d.FirstWeekday)
	}
	if n := len(d.Weekdays); n > 0 && (d.FirstWeekday < 0 || d.FirstWeekday >= n) {
		return fmt.Errorf("%w: first weekday %d out of range [0,%d)", ErrInvalidDefinition, d.FirstWeekday, n)
	}
	return nil
}

// clone copies the slices so callers cannot mutate a shared definition.
func (d Definition) clone() Definition {
	out := d
	out.Months = append([]Month(nil), d.Months...)
	out.Weekdays = append([]Weekday(nil), d.Weekdays...)
	return out
}

// Gregorian returns the built-in default definition. Linear day 0 is
// 1 January of year 0 (proleptic), which was a Saturday.
func Gregorian() Definition {
	month := func(n int, name, abbr string, days, leap int) Month {
		return Month{Name: name, Abbreviation: abbr, Number: n, Days: days, LeapDays: leap}
	}
	return Definition{
		Name: "Gregorian",
		Months: []Month{
			month(1, "January", "Jan", 31, 31),
			month(2, "February", "Feb", 28, 29),
			month(3, "March", "Mar", 31, 31),
			month(4, "April", "Apr", 30, 30),
			month(5, "May", "May", 31, 31),
			month(6, "June", "Jun", 30, 30),
			month(7, "July", "Jul", 31, 31),
			month(8, "August", "Aug", 31, 31),
			month(9, "September", "Sep", 30, 30),
			month(10, "October", "Oct", 31, 31),
			month(11, "November", "Nov", 30, 30),
			month(12, "December", "Dec", 31, 31),
		},
		Weekdays: []Weekday{
			{Name: "Sunday", Abbreviation: "Su"},
			{Name: "Monday", Abbreviation: "Mo"},
			{Name: "Tuesday", Abbreviation: "Tu"},
			{Name: "Wednesday", Abbreviation: "We"},
			{Name: "Thursday", Abbreviation: "Th"},
			{Name: "Friday", Abbreviation: "Fr"},
			{Name: "Saturday", Abbreviation: "Sa"},
		},
		LeapYear:     LeapRule{Kind: LeapFixed},
		Time:         TimeUnits{HoursPerDay: 24, MinutesPerHour: 60, SecondsPerMinute: 60},
		FirstWeekday: 6,
	}
}
