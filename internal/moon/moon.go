// Package moon computes cyclical moon phases on top of calendar arithmetic.
// Each Moon is independent; nothing here holds state between calls.
package moon

import (
	"errors"
	"fmt"
	"math"

	"simcal/internal/calendar"
	"simcal/internal/model"
)

// lengthTolerance is how far the phase lengths may drift from the cycle
// length before a moon is rejected.
const lengthTolerance = 1e-4

var ErrPhaseLengths = errors.New("moon: phase lengths do not sum to the cycle length")

type Phase struct {
	Name string `yaml:"name" json:"name"`
	// Length is in days and may be fractional.
	Length float64 `yaml:"length" json:"length"`
	// SingleDay marks phases shown only on the one day they occur (full
	// moon, new moon).
	SingleDay bool `yaml:"single_day,omitempty" json:"single_day,omitempty"`
}

type Moon struct {
	ID          string  `yaml:"id,omitempty" json:"id,omitempty"`
	Name        string  `yaml:"name" json:"name"`
	CycleLength float64 `yaml:"cycle_length" json:"cycle_length"`

	// Reference is a date on which a new cycle (the first phase) begins.
	Reference model.Date `yaml:"reference" json:"reference"`

	// CycleDayAdjust shifts the cycle by a (fractional) number of days.
	CycleDayAdjust float64 `yaml:"cycle_day_adjust,omitempty" json:"cycle_day_adjust,omitempty"`

	Phases []Phase `yaml:"phases" json:"phases"`
}

// Validate checks that the moon has phases covering exactly one cycle.
func (m Moon) Validate() error {
	if m.CycleLength <= 0 {
		return fmt.Errorf("moon %q: cycle length must be positive", m.Name)
	}
	if len(m.Phases) == 0 {
		return fmt.Errorf("moon %q: no phases", m.Name)
	}
	sum := 0.0
	for _, p := range m.Phases {
		if p.Length < 0 {
			return fmt.Errorf("moon %q: phase %q has negative length", m.Name, p.Name)
		}
		sum += p.Length
	}
	if math.Abs(sum-m.CycleLength) > lengthTolerance {
		return fmt.Errorf("%w: %q sums to %.4f, cycle is %.4f", ErrPhaseLengths, m.Name, sum, m.CycleLength)
	}
	return nil
}

// Result is the phase active at a given moment.
type Result struct {
	Index int   `json:"index"`
	Phase Phase `json:"phase"`
	// DayInCycle is the zero-based (fractional) day within the cycle.
	DayInCycle float64 `json:"day_in_cycle"`
}

// PhaseFor returns the phase of m active at date (including time of day).
// Exactly one phase is always returned; an unvalidated moon without
// phases yields the zero Result.
func PhaseFor(cal *calendar.Calendar, m Moon, date model.Date) Result {
	if len(m.Phases) == 0 || m.CycleLength <= 0 {
		return Result{}
	}
	spd := float64(cal.SecondsPerDay())
	pos := cyclePosition(cal, m, date)

	acc := 0.0
	for i, p := range m.Phases {
		acc += p.Length * spd
		if pos < acc {
			return Result{Index: i, Phase: p, DayInCycle: pos / spd}
		}
	}
	// Floating error can leave pos at the very end of the last phase.
	return Result{Index: 0, Phase: m.Phases[0], DayInCycle: pos / spd}
}

// cyclePosition returns seconds into the current cycle, always in
// [0, cycleSeconds).
func cyclePosition(cal *calendar.Calendar, m Moon, date model.Date) float64 {
	spd := float64(cal.SecondsPerDay())
	cycle := m.CycleLength * spd

	// The reference date's zero-based day index already marks it as the
	// first day of the cycle.
	reference := float64(cal.DateToDays(m.Reference))*spd - m.CycleDayAdjust*spd
	elapsed := float64(cal.DateToSeconds(date)) - reference

	pos := math.Mod(math.Mod(elapsed, cycle)+cycle, cycle)
	if pos >= cycle {
		pos = 0
	}
	return pos
}

// NextPhase returns the first day strictly after date on which phase
// index begins (evaluated at midnight). ok is false if no such day is
// found within two cycles, which only happens for zero-length phases.
func NextPhase(cal *calendar.Calendar, m Moon, date model.Date, index int) (model.Date, bool) {
	if index < 0 || index >= len(m.Phases) {
		return model.Date{}, false
	}
	start := cal.DateToDays(date)
	limit := int(math.Ceil(m.CycleLength*2)) + 1
	prev := PhaseFor(cal, m, cal.DaysToDate(start)).Index
	for i := 1; i <= limit; i++ {
		d := cal.DaysToDate(start + i)
		cur := PhaseFor(cal, m, d).Index
		if cur == index && prev != index {
			return d, true
		}
		prev = cur
	}
	return model.Date{}, false
}
