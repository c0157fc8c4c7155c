package calendar_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/calendar"
)

func TestValidateRejectsMalformedDefinitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*calendar.Definition)
	}{
		{"NoMonths", func(d *calendar.Definition) { d.Months = nil }},
		{"ZeroHours", func(d *calendar.Definition) { d.Time.HoursPerDay = 0 }},
		{"NegativeDays", func(d *calendar.Definition) { d.Months[0].Days = -1 }},
		{"NegativeLeapDays", func(d *calendar.Definition) { d.Months[3].LeapDays = -2 }},
		{"CustomWithoutModulus", func(d *calendar.Definition) { d.LeapYear = calendar.LeapRule{Kind: calendar.LeapCustom} }},
		{"UnknownLeapKind", func(d *calendar.Definition) { d.LeapYear.Kind = "lunar" }},
		{"FirstWeekdayOutOfRange", func(d *calendar.Definition) { d.FirstWeekday = 7 }},
		{"FirstWeekdayWithoutWeekdays", func(d *calendar.Definition) { d.Weekdays = nil; d.FirstWeekday = 5 }},
		{"EmptyYear", func(d *calendar.Definition) {
			for i := range d.Months {
				d.Months[i].Days = 0
			}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			def := calendar.Gregorian()
			tc.mutate(&def)
			require.ErrorIs(t, def.Validate(), calendar.ErrInvalidDefinition)
		})
	}
}

func TestValidateAllowsZeroWeekdays(t *testing.T) {
	t.Parallel()

	def := calendar.Gregorian()
	def.Weekdays = nil
	def.FirstWeekday = 0
	require.NoError(t, def.Validate())

	def.FirstWeekday = 3
	err := def.Validate()
	require.ErrorIs(t, err, calendar.ErrNoWeekdays)
	require.ErrorIs(t, err, calendar.ErrInvalidDefinition)

	c, err := calendar.Load(def)
	require.ErrorIs(t, err, calendar.ErrNoWeekdays)
	assert.Equal(t, "Gregorian", c.Name())
	assert.Equal(t, 7, c.WeekdayCount())
}

func TestLoadFallsBackToGregorian(t *testing.T) {
	t.Parallel()

	bad := calendar.Gregorian()
	bad.Name = "Broken"
	bad.Time.SecondsPerMinute = 0

	c, err := calendar.Load(bad)
	require.ErrorIs(t, err, calendar.ErrInvalidDefinition)
	require.NotNil(t, c)
	assert.Equal(t, "Gregorian", c.Name())
	assert.Equal(t, 86400, c.SecondsPerDay())
}

func TestDefinitionIsCopied(t *testing.T) {
	t.Parallel()

	def := calendar.Gregorian()
	c := calendar.MustNew(def)
	def.Months[0].Days = 1

	got := c.Definition()
	got.Months[1].Days = 1

	assert.Equal(t, 31, c.MonthDays(2023, 0))
	assert.Equal(t, 28, c.MonthDays(2023, 1))
}
