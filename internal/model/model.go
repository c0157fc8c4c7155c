package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Date is a structured in-world date and time of day.
//
// Month and Day are zero-based positions into the active calendar
// definition, so the first day of the first month is {Month: 0, Day: 0}.
// Date is a plain value; copy it freely.
type Date struct {
	Year   int `yaml:"year" json:"year"`
	Month  int `yaml:"month" json:"month"`
	Day    int `yaml:"day" json:"day"`
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
	Second int `yaml:"second" json:"second"`
}

// DateOnly returns d with its time of day zeroed.
func (d Date) DateOnly() Date {
	return Date{Year: d.Year, Month: d.Month, Day: d.Day}
}

// String renders the zero-based fields; human formatting lives in
// internal/session's Formatter.
func (d Date) String() string {
	return fmt.Sprintf("%d-%d-%d %02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// NewID returns a fresh identifier for clients, notes and moons.
func NewID() string {
	return uuid.NewString()
}

// EnsureID returns id, or a fresh one when id is empty.
func EnsureID(id string) string {
	if id == "" {
		return NewID()
	}
	return id
}
