package notes

import (
	"sort"
	"sync"

	appLog "simcal/internal/log"
	"simcal/internal/model"
)

// Store persists note records. The core does not care how.
type Store interface {
	Load() ([]Note, error)
	Save(n Note) error
	Delete(id string) error
}

// Book is the set of notes known to one client. It is safe for
// concurrent use; the scheduler itself stays stateless.
type Book struct {
	mu    sync.Mutex
	sched *Scheduler
	store Store
	notes map[string]*Note
}

// NewBook creates an empty book. store may be nil for an in-memory book.
func NewBook(sched *Scheduler, store Store) *Book {
	return &Book{
		sched: sched,
		store: store,
		notes: make(map[string]*Note),
	}
}

// Load replaces the book's contents with what the store holds.
func (b *Book) Load() error {
	if b.store == nil {
		return nil
	}
	list, err := b.store.Load()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = make(map[string]*Note, len(list))
	for i := range list {
		n := list[i]
		b.normalize(&n)
		b.notes[n.ID] = &n
	}
	appLog.Info("notes loaded", "count", len(list))
	return nil
}

func (b *Book) normalize(n *Note) {
	n.ID = model.EnsureID(n.ID)
	if r, err := ParseRecurrence(string(n.Schedule.Recurrence)); err != nil {
		appLog.Error("notes: bad recurrence; using never", err, "id", n.ID)
		n.Schedule.Recurrence = Never
	} else {
		n.Schedule.Recurrence = r
	}
	cal := b.sched.Calendar()
	var changed bool
	if n.Schedule.Start, changed = cal.Clamp(n.Schedule.Start); changed {
		appLog.Info("notes: start date adjusted to fit calendar", "id", n.ID, "start", n.Schedule.Start)
	}
	if n.Schedule.End, changed = cal.Clamp(n.Schedule.End); changed {
		appLog.Info("notes: end date adjusted to fit calendar", "id", n.ID, "end", n.Schedule.End)
	}
}

// Upsert adds or replaces a note and returns the stored version. The
// fired state is kept when the schedule is unchanged, so a title edit does
// not re-fire a note. The book only changes once the store accepted it.
func (b *Book) Upsert(n Note) (Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.normalize(&n)
	if old, ok := b.notes[n.ID]; ok && old.Schedule == n.Schedule {
		n.Trigger = old.Trigger
	} else {
		n.Trigger = Trigger{}
	}
	if b.store != nil {
		if err := b.store.Save(n); err != nil {
			return n, err
		}
	}
	stored := n
	b.notes[n.ID] = &stored
	return n, nil
}

// Remove deletes a note. Removing an unknown id returns ErrNotFound; a
// store failure leaves the note in the book.
func (b *Book) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.notes[id]; !ok {
		return ErrNotFound
	}
	if b.store != nil {
		if err := b.store.Delete(id); err != nil {
			return err
		}
	}
	delete(b.notes, id)
	return nil
}

func (b *Book) Get(id string) (Note, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.notes[id]
	if !ok {
		return Note{}, false
	}
	return *n, true
}

// List returns copies of all notes ordered by start date, then title.
func (b *Book) List() []Note {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked()
}

func (b *Book) sortedLocked() []Note {
	cal := b.sched.Calendar()
	out := make([]Note, 0, len(b.notes))
	for _, n := range b.notes {
		out = append(out, *n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := cal.Compare(out[i].Schedule.Start, out[j].Schedule.Start); c != 0 {
			return c < 0
		}
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveFor returns the ids of notes active at date.
func (b *Book) ActiveFor(at model.Date) []string {
	b.mu.Lock()
	list := b.sortedLocked()
	b.mu.Unlock()
	return b.sched.ActiveFor(list, at)
}

// CheckTriggers runs the scheduler over the book and persists the notes
// whose fired state changed.
func (b *Book) CheckTriggers(at model.Date, force bool) []Fired {
	b.mu.Lock()
	fired := b.sched.CheckTriggers(b.ptrsLocked(), at, force)
	changed := b.copiesLocked(firedIDs(fired))
	b.mu.Unlock()

	b.persist(changed)
	return fired
}

// ResetRollovers clears fired flags of recurring notes that moved on to a
// new occurrence.
func (b *Book) ResetRollovers(at model.Date) []string {
	b.mu.Lock()
	ids := b.sched.ResetRollovers(b.ptrsLocked(), at)
	changed := b.copiesLocked(ids)
	b.mu.Unlock()

	b.persist(changed)
	return ids
}

func (b *Book) ptrsLocked() []*Note {
	list := b.sortedLocked()
	out := make([]*Note, 0, len(list))
	for _, n := range list {
		out = append(out, b.notes[n.ID])
	}
	return out
}

func (b *Book) copiesLocked(ids []string) []Note {
	out := make([]Note, 0, len(ids))
	for _, id := range ids {
		if n, ok := b.notes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

func (b *Book) persist(list []Note) {
	if b.store == nil {
		return
	}
	for _, n := range list {
		if err := b.store.Save(n); err != nil {
			appLog.Error("notes: failed to persist trigger state", err, "id", n.ID)
		}
	}
}

func firedIDs(fired []Fired) []string {
	ids := make([]string, 0, len(fired))
	for _, f := range fired {
		ids = append(ids, f.NoteID)
	}
	return ids
}
