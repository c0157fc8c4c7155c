package notes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/calendar"
	"simcal/internal/model"
	"simcal/internal/notes"
)

func gregorian() *notes.Scheduler {
	return notes.NewScheduler(calendar.MustNew(calendar.Gregorian()))
}

// day builds a Gregorian date from 1-based month and day numbers.
func day(year, month, d int) model.Date {
	return model.Date{Year: year, Month: month - 1, Day: d - 1}
}

func at(year, month, d, hour, minute int) model.Date {
	out := day(year, month, d)
	out.Hour, out.Minute = hour, minute
	return out
}

func TestNoteActivationScenario(t *testing.T) {
	t.Parallel()

	s := gregorian()
	n := &notes.Note{
		ID:    "festival",
		Title: "Spring festival",
		Schedule: notes.Schedule{
			Start:  day(2023, 3, 1),
			End:    day(2023, 3, 3),
			AllDay: true,
		},
	}

	assert.False(t, s.IsActive(*n, day(2023, 2, 28)))
	assert.True(t, s.IsActive(*n, day(2023, 3, 1)))
	assert.True(t, s.IsActive(*n, at(2023, 3, 2, 23, 59)))
	assert.True(t, s.IsActive(*n, day(2023, 3, 3)))
	assert.False(t, s.IsActive(*n, day(2023, 3, 4)))

	total := 0
	for _, d := range []model.Date{day(2023, 2, 28), day(2023, 3, 1), at(2023, 3, 1, 12, 0), day(2023, 3, 2), day(2023, 3, 3), day(2023, 3, 4)} {
		fired := s.CheckTriggers([]*notes.Note{n}, d, false)
		if len(fired) > 0 {
			assert.Equal(t, day(2023, 3, 1), d, "must fire when the range is first entered")
		}
		total += len(fired)
	}
	assert.Equal(t, 1, total)
}

func TestClassifyTimedNote(t *testing.T) {
	t.Parallel()

	s := gregorian()
	sch := notes.Schedule{Start: at(2023, 3, 1, 10, 0), End: at(2023, 3, 1, 12, 0)}

	testCases := []struct {
		at   model.Date
		want notes.Relation
	}{
		{at(2023, 3, 1, 9, 59), notes.Before},
		{at(2023, 3, 1, 10, 0), notes.Start},
		{at(2023, 3, 1, 11, 0), notes.Middle},
		{at(2023, 3, 1, 12, 0), notes.End},
		{at(2023, 3, 1, 12, 1), notes.After},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, s.Classify(sch, tc.at), "at %v", tc.at)
	}

	moment := notes.Schedule{Start: at(2023, 3, 1, 10, 0), End: at(2023, 3, 1, 10, 0)}
	assert.Equal(t, notes.Exact, s.Classify(moment, at(2023, 3, 1, 10, 0)))
	assert.Equal(t, notes.After, s.Classify(moment, at(2023, 3, 1, 10, 1)))

	single := notes.Schedule{Start: day(2023, 3, 1), End: day(2023, 3, 1), AllDay: true}
	assert.Equal(t, notes.Exact, s.Classify(single, at(2023, 3, 1, 18, 0)))
}

func TestRelationActive(t *testing.T) {
	t.Parallel()

	active := map[notes.Relation]bool{
		notes.Before: false, notes.Start: true, notes.Middle: true,
		notes.End: true, notes.After: false, notes.Exact: true,
	}
	for r, want := range active {
		assert.Equal(t, want, r.Active(), r.String())
	}
}

func TestCheckTriggersIdempotentAndForce(t *testing.T) {
	t.Parallel()

	s := gregorian()
	list := []*notes.Note{
		{ID: "a", Schedule: notes.Schedule{Start: day(2023, 1, 1), End: day(2023, 1, 9), AllDay: true}},
		{ID: "b", Schedule: notes.Schedule{Start: day(2023, 1, 5), End: day(2023, 1, 5), AllDay: true}},
		{ID: "c", Schedule: notes.Schedule{Start: day(2024, 1, 1), End: day(2024, 1, 1), AllDay: true}},
	}
	now := day(2023, 1, 5)

	first := s.CheckTriggers(list, now, false)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].NoteID)
	assert.Equal(t, "b", first[1].NoteID)

	assert.Empty(t, s.CheckTriggers(list, now, false))

	forced := s.CheckTriggers(list, now, true)
	assert.Len(t, forced, 2)
	assert.False(t, list[2].Trigger.Fired)
}

func TestYearlyRecurrence(t *testing.T) {
	t.Parallel()

	s := gregorian()
	newYear := notes.Schedule{
		Start:      day(2020, 12, 30),
		End:        day(2021, 1, 2),
		AllDay:     true,
		Recurrence: notes.Yearly,
	}
	assert.True(t, s.Classify(newYear, day(2024, 1, 1)).Active())
	assert.True(t, s.Classify(newYear, day(2024, 12, 31)).Active())
	assert.False(t, s.Classify(newYear, day(2024, 3, 1)).Active())
	assert.False(t, s.Classify(newYear, day(2019, 12, 31)).Active(), "no occurrences before the first")

	leapBirthday := notes.Schedule{Start: day(2020, 2, 29), End: day(2020, 2, 29), AllDay: true, Recurrence: notes.Yearly}
	assert.True(t, s.Classify(leapBirthday, day(2023, 2, 28)).Active())
	assert.True(t, s.Classify(leapBirthday, day(2024, 2, 29)).Active())
	assert.False(t, s.Classify(leapBirthday, day(2024, 2, 28)).Active())
}

func TestMonthlyRecurrenceClampsToMonthEnd(t *testing.T) {
	t.Parallel()

	s := gregorian()
	rent := notes.Schedule{Start: day(2024, 1, 31), End: day(2024, 1, 31), AllDay: true, Recurrence: notes.Monthly}

	assert.True(t, s.Classify(rent, day(2024, 2, 29)).Active())
	assert.True(t, s.Classify(rent, day(2024, 3, 31)).Active())
	assert.True(t, s.Classify(rent, day(2024, 4, 30)).Active())
	assert.True(t, s.Classify(rent, day(2025, 1, 31)).Active())
	assert.False(t, s.Classify(rent, day(2024, 4, 29)).Active())
}

func TestWeeklyRecurrenceAndRollover(t *testing.T) {
	t.Parallel()

	s := gregorian()
	n := &notes.Note{
		ID:       "market",
		Schedule: notes.Schedule{Start: day(2024, 1, 1), End: day(2024, 1, 1), AllDay: true, Recurrence: notes.Weekly},
	}
	list := []*notes.Note{n}

	assert.False(t, s.IsActive(*n, day(2023, 12, 25)))
	assert.True(t, s.IsActive(*n, day(2024, 1, 8)))
	assert.False(t, s.IsActive(*n, day(2024, 1, 9)))

	require.Len(t, s.CheckTriggers(list, day(2024, 1, 1), false), 1)

	assert.Empty(t, s.ResetRollovers(list, day(2024, 1, 5)))
	assert.True(t, n.Trigger.Fired)

	assert.Equal(t, []string{"market"}, s.ResetRollovers(list, day(2024, 1, 8)))
	assert.False(t, n.Trigger.Fired)
	assert.Len(t, s.CheckTriggers(list, day(2024, 1, 8), false), 1)
}

func TestWeeklyWithoutWeekdaysIsOneOff(t *testing.T) {
	t.Parallel()

	def := calendar.Gregorian()
	def.Weekdays = nil
	def.FirstWeekday = 0
	s := notes.NewScheduler(calendar.MustNew(def))
	sch := notes.Schedule{Start: day(2024, 1, 1), End: day(2024, 1, 1), AllDay: true, Recurrence: notes.Weekly}

	assert.True(t, s.Classify(sch, day(2024, 1, 1)).Active())
	assert.False(t, s.Classify(sch, day(2024, 1, 8)).Active())
}

func TestActiveFor(t *testing.T) {
	t.Parallel()

	s := gregorian()
	list := []notes.Note{
		{ID: "x", Schedule: notes.Schedule{Start: day(2023, 5, 1), End: day(2023, 5, 3), AllDay: true}},
		{ID: "y", Schedule: notes.Schedule{Start: at(2023, 5, 2, 8, 0), End: at(2023, 5, 2, 9, 0)}},
		{ID: "z", Schedule: notes.Schedule{Start: day(2023, 6, 1), End: day(2023, 6, 1), AllDay: true}},
	}

	assert.Equal(t, []string{"x", "y"}, s.ActiveFor(list, at(2023, 5, 2, 8, 30)))
	assert.Equal(t, []string{"x"}, s.ActiveFor(list, at(2023, 5, 2, 10, 0)))
	assert.Empty(t, s.ActiveFor(list, day(2023, 5, 20)))
}

func TestParseRecurrence(t *testing.T) {
	t.Parallel()

	r, err := notes.ParseRecurrence("")
	require.NoError(t, err)
	assert.Equal(t, notes.Never, r)

	r, err = notes.ParseRecurrence("monthly")
	require.NoError(t, err)
	assert.Equal(t, notes.Monthly, r)

	_, err = notes.ParseRecurrence("fortnightly")
	require.Error(t, err)
}
