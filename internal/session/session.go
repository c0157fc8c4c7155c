// Package session ties one client's calendar, clock, election, notes and
// broadcast coordinator together and is what the outer surfaces (HTTP,
// CLI) talk to.
package session

import (
	"errors"
	"sync"

	"simcal/internal/broadcast"
	"simcal/internal/calendar"
	"simcal/internal/clock"
	"simcal/internal/events"
	appLog "simcal/internal/log"
	"simcal/internal/model"
	"simcal/internal/moon"
	"simcal/internal/notes"
)

type Options struct {
	ClientID string
	Calendar *calendar.Calendar
	Moons    []moon.Moon

	Scheduler clock.Scheduler
	Transport broadcast.Transport
	NoteStore notes.Store  // optional
	Formatter Formatter    // defaults to PatternFormatter
	Clock     clock.Config // Calendar, Scheduler and Leadership are filled in
	Election  clock.ElectionConfig
}

// MoonPhase is one moon's phase on a date.
type MoonPhase struct {
	MoonID   string      `json:"moon_id"`
	MoonName string      `json:"moon"`
	Result   moon.Result `json:"result"`
}

// NoteChange reports a note that was added, edited or removed, locally or
// by another client.
type NoteChange struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
	Remote  bool   `json:"remote"`
}

type Session struct {
	id        string
	cal       *calendar.Calendar
	moons     []moon.Moon
	clock     *clock.Clock
	elector   *clock.Elector
	book      *notes.Book
	coord     *broadcast.Coordinator
	formatter Formatter

	mu      sync.RWMutex
	visible *model.Date

	dateChanged   events.Topic[model.Date]
	noteTriggered events.Topic[notes.Fired]
	warnings      events.Topic[clock.Warning]
	noteChanges   events.Topic[NoteChange]

	unsubs []func()
	once   sync.Once
}

// New wires a session. Invalid moons are logged and left out; a note
// store that fails to load leaves the session with an empty book and
// returns the error alongside it.
func New(opts Options) (*Session, error) {
	if opts.Calendar == nil {
		return nil, errors.New("session: calendar is required")
	}
	if opts.Scheduler == nil || opts.Transport == nil {
		return nil, errors.New("session: scheduler and transport are required")
	}
	s := &Session{
		id:        model.EnsureID(opts.ClientID),
		cal:       opts.Calendar,
		formatter: opts.Formatter,
	}
	if s.formatter == nil {
		s.formatter = PatternFormatter{}
	}
	for _, m := range opts.Moons {
		if err := m.Validate(); err != nil {
			appLog.Error("session: skipping invalid moon", err, "moon", m.Name)
			continue
		}
		m.ID = model.EnsureID(m.ID)
		s.moons = append(s.moons, m)
	}

	s.book = notes.NewBook(notes.NewScheduler(s.cal), opts.NoteStore)
	loadErr := s.book.Load()
	if loadErr != nil {
		appLog.Error("session: failed to load notes", loadErr)
	}

	s.coord = broadcast.NewCoordinator(s.id, opts.Transport)
	s.elector = clock.NewElector(s.id, opts.Election, s.coord, opts.Scheduler)

	cc := opts.Clock
	cc.Calendar = s.cal
	cc.Scheduler = opts.Scheduler
	cc.Leadership = s.elector
	s.clock = clock.New(cc)

	s.coord.Bind(broadcast.Routes{Clock: s.clock, Election: s.elector, Notes: s.book})

	s.unsubs = append(s.unsubs,
		s.clock.Changes().Subscribe(s.onClockChange),
		s.elector.Warnings().Subscribe(s.warnings.Publish),
		s.coord.Received().Subscribe(s.onRemote),
	)
	appLog.Info("session ready", "client", s.id, "calendar", s.cal.Name(), "moons", len(s.moons))
	return s, loadErr
}

func (s *Session) ID() string                          { return s.id }
func (s *Session) Calendar() *calendar.Calendar        { return s.cal }
func (s *Session) Clock() *clock.Clock                 { return s.clock }
func (s *Session) Elector() *clock.Elector             { return s.elector }
func (s *Session) Coordinator() *broadcast.Coordinator { return s.coord }

func (s *Session) Moons() []moon.Moon {
	return append([]moon.Moon(nil), s.moons...)
}

func (s *Session) OnDateChanged() *events.Topic[model.Date]    { return &s.dateChanged }
func (s *Session) OnNoteTriggered() *events.Topic[notes.Fired] { return &s.noteTriggered }
func (s *Session) OnWarning() *events.Topic[clock.Warning]     { return &s.warnings }
func (s *Session) OnNoteChanged() *events.Topic[NoteChange]    { return &s.noteChanges }

// Start joins the election and starts the clock.
func (s *Session) Start(resume bool) error {
	s.elector.Run()
	return s.clock.Start(resume)
}

func (s *Session) Pause() error { return s.clock.Pause() }

func (s *Session) Stop() { s.clock.Stop() }

// Close stops the clock, leaves the election and flushes pending
// broadcasts. The transport is left to its owner.
func (s *Session) Close() {
	s.once.Do(func() {
		s.clock.Stop()
		s.elector.Close()
		s.coord.Close()
		for _, u := range s.unsubs {
			u()
		}
	})
}

func (s *Session) onClockChange(ch clock.Change) {
	if ch.Local {
		s.coord.BroadcastDate(ch.State.Date, ch.State.Elapsed)
	}
	s.evaluate(ch.State.Date)
	s.dateChanged.Publish(ch.State.Date)
}

// evaluate re-arms recurring notes that rolled over and fires the ones
// that became active.
func (s *Session) evaluate(at model.Date) {
	if ids := s.book.ResetRollovers(at); len(ids) > 0 {
		appLog.Debug("session: recurring notes re-armed", "count", len(ids))
	}
	for _, f := range s.book.CheckTriggers(at, false) {
		appLog.Info("note triggered", "note", f.NoteID, "title", f.Title, "at", at.String())
		s.noteTriggered.Publish(f)
	}
}

func (s *Session) onRemote(m broadcast.Message) {
	switch m.Kind {
	case broadcast.NoteUpdated:
		s.noteChanges.Publish(NoteChange{ID: m.Note.ID, Remote: true})
		s.evaluate(s.clock.Date())
	case broadcast.NoteRemoved:
		s.noteChanges.Publish(NoteChange{ID: m.NoteID, Removed: true, Remote: true})
	}
}

// CurrentDate is the date the shared clock shows.
func (s *Session) CurrentDate() model.Date { return s.clock.Date() }

func (s *Session) ClockState() clock.State { return s.clock.State() }

// SetDate moves the shared clock. Only the leader may.
func (s *Session) SetDate(date model.Date, elapsed float64) error {
	return s.clock.SetDate(date, elapsed)
}

// VisibleDate is the date this client is looking at. It follows the
// clock until SetVisibleDate pins it.
func (s *Session) VisibleDate() model.Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.visible != nil {
		return *s.visible
	}
	return s.clock.Date().DateOnly()
}

// SetVisibleDate pins the visible date; nil follows the clock again.
func (s *Session) SetVisibleDate(d *model.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == nil {
		s.visible = nil
		return
	}
	clamped, _ := s.cal.Clamp(*d)
	s.visible = &clamped
}

// FormatDate renders d with pattern (DefaultPattern when empty).
func (s *Session) FormatDate(d model.Date, pattern string) string {
	return s.formatter.Format(s.cal, d, pattern)
}

func (s *Session) ActiveNotesFor(d model.Date) []string {
	return s.book.ActiveFor(d)
}

func (s *Session) MoonPhases(d model.Date) []MoonPhase {
	out := make([]MoonPhase, 0, len(s.moons))
	for _, m := range s.moons {
		out = append(out, MoonPhase{MoonID: m.ID, MoonName: m.Name, Result: moon.PhaseFor(s.cal, m, d)})
	}
	return out
}

func (s *Session) Notes() []notes.Note { return s.book.List() }

func (s *Session) Note(id string) (notes.Note, bool) { return s.book.Get(id) }

// UpsertNote stores n, tells the other clients and fires it if it is
// active right now.
func (s *Session) UpsertNote(n notes.Note) (notes.Note, error) {
	stored, err := s.book.Upsert(n)
	if err != nil {
		return stored, err
	}
	s.coord.BroadcastNote(stored)
	s.noteChanges.Publish(NoteChange{ID: stored.ID})
	s.evaluate(s.clock.Date())
	return stored, nil
}

func (s *Session) RemoveNote(id string) error {
	if err := s.book.Remove(id); err != nil {
		return err
	}
	s.coord.BroadcastNoteRemoved(id)
	s.noteChanges.Publish(NoteChange{ID: id, Removed: true})
	return nil
}
