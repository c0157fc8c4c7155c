// Package clock advances the shared in-world time. Clock owns the elapsed
// seconds of the current day and a Stopped/Started/Paused state machine;
// Elector decides which of several connected clients is allowed to
// advance it.
package clock

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"simcal/internal/calendar"
	"simcal/internal/events"
	appLog "simcal/internal/log"
	"simcal/internal/model"
)

var (
	ErrInvalidTransition = errors.New("clock: invalid state transition")
	ErrNotLeader         = errors.New("clock: not the leader")
)

type Status string

const (
	Stopped Status = "stopped"
	Started Status = "started"
	Paused  Status = "paused"
)

// State is the persisted clock. Elapsed is the number of seconds into
// Date's day; Date's time fields always mirror it.
type State struct {
	Date    model.Date `yaml:"date" json:"date"`
	Elapsed float64    `yaml:"elapsed" json:"elapsed"`
	Status  Status     `yaml:"status" json:"status"`
}

// StateStore persists clock state between runs. Load reports false when
// nothing was stored yet.
type StateStore interface {
	Load() (State, bool, error)
	Save(State) error
}

// HostPause exposes the hosting session's own pause flag.
type HostPause interface {
	IsHostPaused() bool
}

// HostFlag is a HostPause set from outside, e.g. over the API.
type HostFlag struct{ paused atomic.Bool }

func (h *HostFlag) IsHostPaused() bool { return h.paused.Load() }
func (h *HostFlag) Set(paused bool)    { h.paused.Store(paused) }

// Scheduler runs the tick, heartbeat and timeout jobs.
type Scheduler interface {
	Every(d time.Duration, fn func()) (cancel func())
	After(d time.Duration, fn func()) (cancel func())
	Now() time.Time
}

// Leadership tells the clock whether it may advance. Claim is called on
// Start so a client that starts the clock also tries to become leader.
type Leadership interface {
	IsLeader() bool
	Claim()
}

// Change is published whenever the clock's date or time moves. Local is
// true for changes made by this client (ticks and SetDate), which the
// caller is expected to broadcast; applied remote changes are not local.
type Change struct {
	State State
	Local bool
}

type Config struct {
	Calendar   *calendar.Calendar
	Scheduler  Scheduler
	Store      StateStore // optional
	Host       HostPause  // optional
	Leadership Leadership // nil: always leader

	// UpdateFrequency is the real time between ticks, truncated to whole
	// seconds (at least one); GameTimeRatio the in-world seconds that pass
	// per real second.
	UpdateFrequency time.Duration
	GameTimeRatio   float64
	UnifyPause      bool

	Initial model.Date
}

type Clock struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	cancel func()

	changes events.Topic[Change]
	status  events.Topic[Status]
}

func New(cfg Config) *Clock {
	cfg.UpdateFrequency = cfg.UpdateFrequency.Truncate(time.Second)
	if cfg.UpdateFrequency < time.Second {
		cfg.UpdateFrequency = time.Second
	}
	if cfg.GameTimeRatio == 0 {
		cfg.GameTimeRatio = 1
	}
	c := &Clock{cfg: cfg}
	c.state = State{Status: Stopped}
	c.setLocked(cfg.Initial, float64(cfg.Calendar.TimeToSeconds(cfg.Initial.Hour, cfg.Initial.Minute, cfg.Initial.Second)))
	return c
}

// Changes is the topic of date/time changes.
func (c *Clock) Changes() *events.Topic[Change] { return &c.changes }

// StatusChanges is the topic of state machine transitions.
func (c *Clock) StatusChanges() *events.Topic[Status] { return &c.status }

func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

func (c *Clock) Date() model.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Date
}

func (c *Clock) isLeader() bool {
	return c.cfg.Leadership == nil || c.cfg.Leadership.IsLeader()
}

// Start begins ticking. With resume, the persisted state is restored
// first. Starting a started clock does nothing. A client that is not the
// leader shows Started but never advances on its own.
func (c *Clock) Start(resume bool) error {
	c.mu.Lock()
	if c.state.Status == Started {
		c.mu.Unlock()
		return nil
	}
	if resume && c.cfg.Store != nil {
		st, ok, err := c.cfg.Store.Load()
		switch {
		case err != nil:
			appLog.Error("clock: failed to load state; keeping current", err)
		case ok:
			c.setLocked(st.Date, st.Elapsed)
			appLog.Info("clock: state restored", "date", c.state.Date.String())
		}
	}
	c.state.Status = Started
	c.cancel = c.cfg.Scheduler.Every(c.cfg.UpdateFrequency, c.Tick)
	st := c.state
	c.mu.Unlock()

	if c.cfg.Leadership != nil {
		c.cfg.Leadership.Claim()
	}
	appLog.Info("clock started", "date", st.Date.String(), "resume", resume)
	c.status.Publish(Started)
	return nil
}

// Pause stops ticking but keeps the clock resumable. Pausing a stopped
// clock is an invalid transition; pausing a paused one does nothing.
func (c *Clock) Pause() error {
	c.mu.Lock()
	switch c.state.Status {
	case Paused:
		c.mu.Unlock()
		return nil
	case Stopped:
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.haltLocked(Paused)
	st := c.state
	c.mu.Unlock()

	c.persist(st)
	appLog.Info("clock paused", "date", st.Date.String())
	c.status.Publish(Paused)
	return nil
}

// Stop halts the clock from any state.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.state.Status == Stopped {
		c.mu.Unlock()
		return
	}
	c.haltLocked(Stopped)
	st := c.state
	c.mu.Unlock()

	c.persist(st)
	appLog.Info("clock stopped", "date", st.Date.String())
	c.status.Publish(Stopped)
}

func (c *Clock) haltLocked(to Status) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.Status = to
}

// persist saves st when this client is the leader.
func (c *Clock) persist(st State) {
	if c.cfg.Store == nil || !c.isLeader() {
		return
	}
	if err := c.cfg.Store.Save(st); err != nil {
		appLog.Error("clock: failed to save state", err)
	}
}

// Tick advances the clock by one update interval. It does nothing unless
// the clock is started, this client leads, and (with unified pause) the
// host is not paused.
func (c *Clock) Tick() {
	c.mu.Lock()
	if c.state.Status != Started || !c.isLeader() {
		c.mu.Unlock()
		return
	}
	if c.cfg.UnifyPause && c.cfg.Host != nil && c.cfg.Host.IsHostPaused() {
		c.mu.Unlock()
		return
	}
	delta := c.cfg.UpdateFrequency.Seconds() * c.cfg.GameTimeRatio
	c.setLocked(c.state.Date, c.state.Elapsed+delta)
	st := c.state
	c.mu.Unlock()

	c.changes.Publish(Change{State: st, Local: true})
}

// Apply overwrites the clock with a date received from the leader.
func (c *Clock) Apply(date model.Date, elapsed float64) {
	c.mu.Lock()
	c.setLocked(date, elapsed)
	st := c.state
	c.mu.Unlock()

	c.changes.Publish(Change{State: st, Local: false})
}

// SetDate moves the clock to date with elapsed seconds into that day.
// Only the leader may do this.
func (c *Clock) SetDate(date model.Date, elapsed float64) error {
	if !c.isLeader() {
		return ErrNotLeader
	}
	c.mu.Lock()
	c.setLocked(date, elapsed)
	st := c.state
	c.mu.Unlock()

	c.persist(st)
	c.changes.Publish(Change{State: st, Local: true})
	return nil
}

// setLocked clamps date, rolls elapsed over whole days in either
// direction and refreshes the date's time fields.
func (c *Clock) setLocked(date model.Date, elapsed float64) {
	cal := c.cfg.Calendar
	date, _ = cal.Clamp(date)
	spd := float64(cal.SecondsPerDay())
	if days := math.Floor(elapsed / spd); days != 0 {
		elapsed -= days * spd
		date = cal.AddDays(date, int(days))
	}
	if elapsed >= spd {
		// float rounding after a backward rollover
		elapsed = 0
		date = cal.AddDays(date, 1)
	}
	date.Hour, date.Minute, date.Second = cal.SecondsToTime(int(elapsed))
	c.state.Date = date
	c.state.Elapsed = elapsed
}
