package moon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/calendar"
	"simcal/internal/model"
	"simcal/internal/moon"
)

func luna() moon.Moon {
	const quarter = 6.38265
	return moon.Moon{
		Name:        "Luna",
		CycleLength: 29.53059,
		Reference:   model.Date{Year: 2000, Month: 0, Day: 5},
		Phases: []moon.Phase{
			{Name: "New Moon", Length: 1, SingleDay: true},
			{Name: "Waxing Crescent", Length: quarter},
			{Name: "First Quarter", Length: 1, SingleDay: true},
			{Name: "Waxing Gibbous", Length: quarter},
			{Name: "Full Moon", Length: 1, SingleDay: true},
			{Name: "Waning Gibbous", Length: quarter},
			{Name: "Last Quarter", Length: 1, SingleDay: true},
			{Name: "Waning Crescent", Length: quarter},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, luna().Validate())

	short := luna()
	short.Phases = short.Phases[:7]
	require.ErrorIs(t, short.Validate(), moon.ErrPhaseLengths)

	none := luna()
	none.Phases = nil
	require.Error(t, none.Validate())

	zero := luna()
	zero.CycleLength = 0
	require.Error(t, zero.Validate())
}

func TestPhaseForAroundReference(t *testing.T) {
	t.Parallel()

	cal := calendar.MustNew(calendar.Gregorian())
	m := luna()
	ref := m.Reference

	testCases := []struct {
		name   string
		offset int
		want   string
	}{
		{"ReferenceDay", 0, "New Moon"},
		{"DayAfter", 1, "Waxing Crescent"},
		{"StillCrescent", 7, "Waxing Crescent"},
		{"FirstQuarter", 8, "First Quarter"},
		{"FullMoon", 15, "Full Moon"},
		{"DayBefore", -1, "Waning Crescent"},
		{"NextCycle", 30, "New Moon"},
		{"PreviousCycle", -29, "New Moon"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := moon.PhaseFor(cal, m, cal.AddDays(ref, tc.offset))
			assert.Equal(t, tc.want, got.Phase.Name)
		})
	}
}

func TestPhaseForAlwaysReturnsOnePhase(t *testing.T) {
	t.Parallel()

	cal := calendar.MustNew(calendar.Gregorian())
	m := luna()
	start := cal.DateToDays(model.Date{Year: 1990})

	for i := 0; i < 4000; i += 3 {
		d := cal.DaysToDate(start + i)
		d.Hour = i % 24
		got := moon.PhaseFor(cal, m, d)
		require.GreaterOrEqual(t, got.Index, 0)
		require.Less(t, got.Index, len(m.Phases))
		require.Equal(t, m.Phases[got.Index], got.Phase)
		require.GreaterOrEqual(t, got.DayInCycle, 0.0)
		require.Less(t, got.DayInCycle, m.CycleLength)
	}
}

func TestCycleDayAdjust(t *testing.T) {
	t.Parallel()

	cal := calendar.MustNew(calendar.Gregorian())
	m := luna()
	m.CycleDayAdjust = 1

	assert.Equal(t, "Waxing Crescent", moon.PhaseFor(cal, m, m.Reference).Phase.Name)
}

func TestNextPhase(t *testing.T) {
	t.Parallel()

	cal := calendar.MustNew(calendar.Gregorian())
	m := luna()

	got, ok := moon.NextPhase(cal, m, m.Reference, 4)
	require.True(t, ok)
	assert.Equal(t, cal.AddDays(m.Reference, 15), got)

	_, ok = moon.NextPhase(cal, m, m.Reference, 42)
	assert.False(t, ok)
}
