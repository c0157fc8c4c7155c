package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/broadcast"
	"simcal/internal/calendar"
	"simcal/internal/clock"
	"simcal/internal/model"
	"simcal/internal/moon"
	"simcal/internal/notes"
	"simcal/internal/schedule"
	"simcal/internal/session"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newSession(t *testing.T, id string, sched *schedule.Manual, tr broadcast.Transport, initial model.Date) *session.Session {
	t.Helper()
	s, err := session.New(session.Options{
		ClientID:  id,
		Calendar:  calendar.MustNew(calendar.Gregorian()),
		Scheduler: sched,
		Transport: tr,
		Clock: clock.Config{
			UpdateFrequency: time.Second,
			GameTimeRatio:   3600,
			Initial:         initial,
		},
		Election: clock.ElectionConfig{
			Eligible:          true,
			HeartbeatInterval: 5 * time.Second,
			ClaimTimeout:      2 * time.Second,
			FailoverMultiple:  3,
			WarnAfter:         30 * time.Second,
		},
		Moons: []moon.Moon{
			{ID: "luna", Name: "Luna", CycleLength: 8, Reference: model.Date{Year: 2024},
				Phases: []moon.Phase{{Name: "New", Length: 4}, {Name: "Full", Length: 4}}},
			{Name: "Broken", CycleLength: 8, Phases: []moon.Phase{{Name: "Only", Length: 1}}},
		},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type firedLog struct {
	mu    sync.Mutex
	fired []notes.Fired
}

func (f *firedLog) add(n notes.Fired) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, n)
}

func (f *firedLog) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.fired))
	for _, n := range f.fired {
		out = append(out, n.NoteID)
	}
	return out
}

func TestSessionsShareLeaderClockAndNotes(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	bus := broadcast.NewBus()
	start := model.Date{Year: 2024, Month: 2, Day: 0}
	leader := newSession(t, "a", sched, bus.Join(), start)
	observer := newSession(t, "b", sched, bus.Join(), model.Date{Year: 1})

	var leaderFired, observerFired firedLog
	leader.OnNoteTriggered().Subscribe(leaderFired.add)
	observer.OnNoteTriggered().Subscribe(observerFired.add)

	require.NoError(t, leader.Start(false))
	sched.Advance(2 * time.Second)
	require.True(t, leader.Elector().IsLeader())

	n, err := leader.UpsertNote(notes.Note{
		ID:    "council",
		Title: "Council meeting",
		Schedule: notes.Schedule{
			Start: model.Date{Year: 2024, Month: 2, Day: 0, Hour: 10},
			End:   model.Date{Year: 2024, Month: 2, Day: 0, Hour: 11},
		},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := observer.Note(n.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	sched.Advance(3 * time.Second)
	want := model.Date{Year: 2024, Month: 2, Day: 0, Hour: 3}
	assert.Equal(t, want, leader.CurrentDate())
	require.Eventually(t, func() bool { return observer.CurrentDate() == want }, 5*time.Second, 10*time.Millisecond)

	sched.Advance(7 * time.Second)
	assert.Equal(t, []string{"council"}, leaderFired.ids())
	require.Eventually(t, func() bool { return len(observerFired.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)

	sched.Advance(time.Second)
	assert.Equal(t, []string{"council"}, leaderFired.ids(), "fires once per activation")

	require.Error(t, observer.SetDate(start, 0), "observers cannot move the clock")
}

func TestSessionNoteLifecycle(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	s := newSession(t, "solo", sched, broadcast.NewBus().Join(), model.Date{Year: 2024, Month: 5, Day: 1})

	var changes []session.NoteChange
	s.OnNoteChanged().Subscribe(func(c session.NoteChange) { changes = append(changes, c) })
	var fired firedLog
	s.OnNoteTriggered().Subscribe(fired.add)

	today := model.Date{Year: 2024, Month: 5, Day: 1}
	n, err := s.UpsertNote(notes.Note{Title: "Today", Schedule: notes.Schedule{Start: today, End: today, AllDay: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{n.ID}, fired.ids(), "a note added for today fires at once")
	assert.Equal(t, []string{n.ID}, s.ActiveNotesFor(today))
	assert.Len(t, s.Notes(), 1)

	require.NoError(t, s.RemoveNote(n.ID))
	require.ErrorIs(t, s.RemoveNote(n.ID), notes.ErrNotFound)
	assert.Equal(t, []session.NoteChange{{ID: n.ID}, {ID: n.ID, Removed: true}}, changes)
}

func TestSessionVisibleDateAndMoons(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	initial := model.Date{Year: 2024, Month: 0, Day: 4, Hour: 6}
	s := newSession(t, "solo", sched, broadcast.NewBus().Join(), initial)

	assert.Equal(t, initial.DateOnly(), s.VisibleDate())
	s.SetVisibleDate(&model.Date{Year: 2024, Month: 1, Day: 40})
	assert.Equal(t, model.Date{Year: 2024, Month: 1, Day: 28}, s.VisibleDate())
	s.SetVisibleDate(nil)
	assert.Equal(t, initial.DateOnly(), s.VisibleDate())

	require.Len(t, s.Moons(), 1, "invalid moons are skipped")
	phases := s.MoonPhases(initial)
	require.Len(t, phases, 1)
	assert.Equal(t, "Full", phases[0].Result.Phase.Name)

	assert.Equal(t, "Friday 5 January", s.FormatDate(initial, "dddd D MMMM"))
}

func TestSessionRequiresCalendar(t *testing.T) {
	t.Parallel()

	_, err := session.New(session.Options{})
	require.Error(t, err)
}
