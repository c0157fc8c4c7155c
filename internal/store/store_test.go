package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/calendar"
	"simcal/internal/clock"
	"simcal/internal/model"
	"simcal/internal/notes"
	"simcal/internal/store"
)

func TestNotesSaveLoadDelete(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "notes")
	s := store.OpenNotes(dir)

	empty, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	want := []notes.Note{
		{ID: "n1", Title: "Market day", Schedule: notes.Schedule{
			Start: model.Date{Year: 812, Month: 2}, End: model.Date{Year: 812, Month: 2}, AllDay: true, Recurrence: notes.Weekly,
		}},
		{ID: "n2", Title: "Eclipse", Schedule: notes.Schedule{
			Start: model.Date{Year: 812, Month: 5, Day: 3, Hour: 10}, End: model.Date{Year: 812, Month: 5, Day: 3, Hour: 12},
		}, Trigger: notes.Trigger{Fired: true, Window: 42}},
	}
	for _, n := range want {
		require.NoError(t, s.Save(n))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o600))

	got, err := store.OpenNotes(dir).Load()
	require.NoError(t, err)
	byID := cmpopts.SortSlices(func(a, b notes.Note) bool { return a.ID < b.ID })
	assert.Empty(t, cmp.Diff(want, got, byID))

	require.NoError(t, s.Delete("n1"))
	require.NoError(t, s.Delete("n1"))
	got, err = s.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)
}

func TestNotesRejectsPathLikeIDs(t *testing.T) {
	t.Parallel()

	s := store.OpenNotes(filepath.Join(t.TempDir(), "notes"))
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		require.ErrorIs(t, s.Save(notes.Note{ID: id}), store.ErrBadKey, id)
	}
}

func TestNotesBackBook(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "notes")
	sched := notes.NewScheduler(calendar.MustNew(calendar.Gregorian()))
	day := model.Date{Year: 2024, Month: 6, Day: 9}

	book := notes.NewBook(sched, store.OpenNotes(dir))
	n, err := book.Upsert(notes.Note{Title: "Fair", Schedule: notes.Schedule{Start: day, End: day, AllDay: true}})
	require.NoError(t, err)
	require.Len(t, book.CheckTriggers(day, false), 1)

	reopened := notes.NewBook(sched, store.OpenNotes(dir))
	require.NoError(t, reopened.Load())
	got, ok := reopened.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, "Fair", got.Title)
	assert.True(t, got.Trigger.Fired, "fired state survives a restart")
	assert.Empty(t, reopened.CheckTriggers(day, false))
}

func TestClockFileRoundTrip(t *testing.T) {
	t.Parallel()

	f := store.NewClockFile(filepath.Join(t.TempDir(), "state", "clock.yaml"))

	_, ok, err := f.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	want := clock.State{
		Date:    model.Date{Year: 1492, Month: 9, Day: 11, Hour: 6, Minute: 30},
		Elapsed: 23400.5,
		Status:  clock.Paused,
	}
	require.NoError(t, f.Save(want))

	got, ok, err := f.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestClockFileCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clock.yaml")
	require.NoError(t, os.WriteFile(path, []byte("date: [not a date"), 0o600))

	_, ok, err := store.NewClockFile(path).Load()
	require.Error(t, err)
	assert.False(t, ok)
}
