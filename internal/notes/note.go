package notes

import (
	"errors"
	"fmt"

	"simcal/internal/model"
)

var ErrNotFound = errors.New("notes: note not found")

// Recurrence says how a note's date range repeats.
type Recurrence string

const (
	Never   Recurrence = "never"
	Weekly  Recurrence = "weekly"
	Monthly Recurrence = "monthly"
	Yearly  Recurrence = "yearly"
)

// ParseRecurrence maps stored/config strings to a Recurrence. The empty
// string is Never.
func ParseRecurrence(s string) (Recurrence, error) {
	switch Recurrence(s) {
	case "", Never:
		return Never, nil
	case Weekly, Monthly, Yearly:
		return Recurrence(s), nil
	default:
		return Never, fmt.Errorf("notes: unknown recurrence %q", s)
	}
}

// Relation classifies a moment against a note's (resolved) range.
type Relation int

const (
	Before Relation = iota
	Start
	Middle
	End
	After
	// Exact is a single-moment (or single-day) range hit exactly.
	Exact
)

func (r Relation) String() string {
	switch r {
	case Before:
		return "before"
	case Start:
		return "start"
	case Middle:
		return "middle"
	case End:
		return "end"
	case After:
		return "after"
	case Exact:
		return "exact"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// Active reports whether the relation means the note is in effect.
func (r Relation) Active() bool {
	return r == Start || r == Middle || r == End || r == Exact
}

// Schedule is the date-bound part of a note. The scheduler only reads it.
type Schedule struct {
	Start      model.Date `yaml:"start" json:"start"`
	End        model.Date `yaml:"end" json:"end"`
	AllDay     bool       `yaml:"all_day" json:"all_day"`
	Recurrence Recurrence `yaml:"recurrence,omitempty" json:"recurrence,omitempty"`
}

// Trigger is the per-record fired state. Window identifies the occurrence
// that fired (its start, in seconds since the calendar epoch).
type Trigger struct {
	Fired  bool  `json:"fired"`
	Window int64 `json:"window"`
}

// Note is a date-bound annotation. Content lives elsewhere; only the
// title is kept for notifications.
type Note struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Schedule Schedule `json:"schedule"`
	Trigger  Trigger  `json:"trigger"`
}

// Fired is emitted once per activation of a note.
type Fired struct {
	NoteID string     `json:"note_id"`
	Title  string     `json:"title"`
	At     model.Date `json:"at"`
	// Start/End are the occurrence that became active.
	Start model.Date `json:"start"`
	End   model.Date `json:"end"`
}
