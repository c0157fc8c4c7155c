package clock

import (
	"sync"
	"time"

	"simcal/internal/events"
	appLog "simcal/internal/log"
)

type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Announcer sends election messages to the other clients. Sends are
// fire-and-forget.
type Announcer interface {
	AnnounceClaim()
	AnnounceHeartbeat()
}

type ElectionConfig struct {
	// Eligible clients may claim leadership. Others only follow and warn
	// when nobody leads.
	Eligible bool

	HeartbeatInterval time.Duration
	ClaimTimeout      time.Duration
	// FailoverMultiple heartbeat intervals without a heartbeat mean the
	// leader is gone.
	FailoverMultiple int
	// WarnAfter is how long the session may stay leaderless before a
	// warning is raised.
	WarnAfter time.Duration
}

func DefaultElectionConfig() ElectionConfig {
	return ElectionConfig{
		Eligible:          true,
		HeartbeatInterval: 5 * time.Second,
		ClaimTimeout:      2 * time.Second,
		FailoverMultiple:  3,
		WarnAfter:         30 * time.Second,
	}
}

// Warning is raised when no client has led the session for too long.
type Warning struct {
	Message string
	Since   time.Time
}

// Elector runs first-responder leader election for one client. A claim
// that sees no heartbeat within ClaimTimeout wins; a leader answers every
// claim with a heartbeat; any client that hears another leader steps
// down. Ties between claimants or leaders go to the lowest client id.
type Elector struct {
	mu    sync.Mutex
	id    string
	cfg   ElectionConfig
	out   Announcer
	sched Scheduler

	role      Role
	leaderID  string
	lastBeat  time.Time
	lostSince time.Time
	warned    bool

	cancelClaim func()
	cancelBeat  func()
	cancelWatch func()

	roles    events.Topic[Role]
	warnings events.Topic[Warning]
}

func NewElector(id string, cfg ElectionConfig, out Announcer, sched Scheduler) *Elector {
	def := DefaultElectionConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	if cfg.FailoverMultiple <= 0 {
		cfg.FailoverMultiple = def.FailoverMultiple
	}
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = def.WarnAfter
	}
	return &Elector{id: id, cfg: cfg, out: out, sched: sched}
}

func (e *Elector) ID() string { return e.id }

// Roles is the topic of this client's role changes.
func (e *Elector) Roles() *events.Topic[Role] { return &e.roles }

// Warnings is the topic of leaderless warnings.
func (e *Elector) Warnings() *events.Topic[Warning] { return &e.warnings }

func (e *Elector) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *Elector) IsLeader() bool { return e.Role() == Leader }

// LeaderID returns the id of the known leader, or "" when there is none.
func (e *Elector) LeaderID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderID
}

// Run starts the watchdog. It checks for a live leader once per heartbeat
// interval until Close.
func (e *Elector) Run() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelWatch != nil {
		return
	}
	e.lostSince = e.sched.Now()
	e.cancelWatch = e.sched.Every(e.cfg.HeartbeatInterval, e.Check)
}

// Close stops every election job and gives up leadership.
func (e *Elector) Close() {
	e.mu.Lock()
	for _, cancel := range []func(){e.cancelClaim, e.cancelBeat, e.cancelWatch} {
		if cancel != nil {
			cancel()
		}
	}
	e.cancelClaim, e.cancelBeat, e.cancelWatch = nil, nil, nil
	changed := e.setRoleLocked(Follower)
	if e.leaderID == e.id {
		e.leaderID = ""
	}
	e.mu.Unlock()

	if changed {
		e.roles.Publish(Follower)
	}
}

// Claim asks the other clients whether a leader exists and takes the role
// if nobody answers in time. Leaders, pending claims and ineligible
// clients do nothing.
func (e *Elector) Claim() {
	e.mu.Lock()
	if !e.cfg.Eligible || e.role != Follower {
		e.mu.Unlock()
		return
	}
	e.setRoleLocked(Candidate)
	e.cancelClaim = e.sched.After(e.cfg.ClaimTimeout, e.resolveClaim)
	e.mu.Unlock()

	appLog.Debug("election: claiming leadership", "client", e.id)
	e.roles.Publish(Candidate)
	e.out.AnnounceClaim()
}

func (e *Elector) resolveClaim() {
	e.mu.Lock()
	if e.role != Candidate {
		e.mu.Unlock()
		return
	}
	e.cancelClaim = nil
	e.setRoleLocked(Leader)
	e.leaderID = e.id
	e.warned = false
	e.cancelBeat = e.sched.Every(e.cfg.HeartbeatInterval, e.out.AnnounceHeartbeat)
	e.mu.Unlock()

	appLog.Info("election: became leader", "client", e.id)
	e.roles.Publish(Leader)
	e.out.AnnounceHeartbeat()
}

// HandleClaim reacts to another client's claim.
func (e *Elector) HandleClaim(from string) {
	if from == e.id {
		return
	}
	e.mu.Lock()
	role := e.role
	yield := role == Candidate && from < e.id
	if yield {
		e.stepDownLocked("")
	}
	e.mu.Unlock()

	switch {
	case role == Leader:
		e.out.AnnounceHeartbeat()
	case yield:
		appLog.Debug("election: yielding to lower claimant", "client", e.id, "claimant", from)
		e.roles.Publish(Follower)
	}
}

// HandleHeartbeat records that from is leading. A candidate abandons its
// claim; a leader steps down if from has the lower id and otherwise
// reasserts itself.
func (e *Elector) HandleHeartbeat(from string) {
	if from == e.id {
		return
	}
	e.mu.Lock()
	e.lastBeat = e.sched.Now()
	e.warned = false

	var demoted, reassert bool
	switch e.role {
	case Leader:
		if from < e.id {
			e.stepDownLocked(from)
			demoted = true
		} else {
			reassert = true
		}
	case Candidate:
		e.stepDownLocked(from)
		demoted = true
	default:
		e.leaderID = from
	}
	e.mu.Unlock()

	switch {
	case demoted:
		appLog.Info("election: another leader exists; following", "client", e.id, "leader", from)
		e.roles.Publish(Follower)
	case reassert:
		e.out.AnnounceHeartbeat()
	}
}

func (e *Elector) stepDownLocked(leader string) {
	if e.cancelClaim != nil {
		e.cancelClaim()
		e.cancelClaim = nil
	}
	if e.cancelBeat != nil {
		e.cancelBeat()
		e.cancelBeat = nil
	}
	e.setRoleLocked(Follower)
	e.leaderID = leader
}

// Check is the watchdog step. A follower that has not heard a heartbeat
// for FailoverMultiple intervals forgets the leader and claims; a session
// that stays leaderless for WarnAfter raises one warning.
func (e *Elector) Check() {
	e.mu.Lock()
	if e.role != Follower {
		e.mu.Unlock()
		return
	}
	now := e.sched.Now()
	timeout := time.Duration(e.cfg.FailoverMultiple) * e.cfg.HeartbeatInterval
	if e.leaderID != "" && now.Sub(e.lastBeat) >= timeout {
		appLog.Warn("election: leader heartbeat lost", "client", e.id, "leader", e.leaderID)
		e.leaderID = ""
		e.lostSince = e.lastBeat
	}
	var warn *Warning
	if e.leaderID == "" && !e.warned && now.Sub(e.lostSince) >= e.cfg.WarnAfter {
		e.warned = true
		warn = &Warning{Message: "no client is advancing the clock", Since: e.lostSince}
	}
	leaderless := e.leaderID == ""
	e.mu.Unlock()

	if warn != nil {
		appLog.Warn("election: session is leaderless", "client", e.id, "since", warn.Since.Format(time.RFC3339))
		e.warnings.Publish(*warn)
	}
	if leaderless {
		e.Claim()
	}
}

func (e *Elector) setRoleLocked(r Role) bool {
	if e.role == r {
		return false
	}
	e.role = r
	return true
}
