package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simcal/internal/clock"
	"simcal/internal/schedule"
)

// mesh delivers election messages between electors synchronously. Clients
// marked down neither send nor receive.
type mesh struct {
	peers map[string]*clock.Elector
	down  map[string]bool
}

func newMesh() *mesh {
	return &mesh{peers: make(map[string]*clock.Elector), down: make(map[string]bool)}
}

type port struct {
	m  *mesh
	id string
}

func (p port) each(fn func(*clock.Elector)) {
	if p.m.down[p.id] {
		return
	}
	for id, e := range p.m.peers {
		if id != p.id && !p.m.down[id] {
			fn(e)
		}
	}
}

func (p port) AnnounceClaim()     { p.each(func(e *clock.Elector) { e.HandleClaim(p.id) }) }
func (p port) AnnounceHeartbeat() { p.each(func(e *clock.Elector) { e.HandleHeartbeat(p.id) }) }

func (m *mesh) join(id string, cfg clock.ElectionConfig, sched *schedule.Manual) *clock.Elector {
	e := clock.NewElector(id, cfg, port{m: m, id: id}, sched)
	m.peers[id] = e
	e.Run()
	return e
}

func electionConfig() clock.ElectionConfig {
	return clock.ElectionConfig{
		Eligible:          true,
		HeartbeatInterval: 5 * time.Second,
		ClaimTimeout:      2 * time.Second,
		FailoverMultiple:  3,
		WarnAfter:         30 * time.Second,
	}
}

func TestElectorUncontestedClaimWins(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	a := m.join("a", electionConfig(), sched)

	var roles []clock.Role
	a.Roles().Subscribe(func(r clock.Role) { roles = append(roles, r) })

	a.Claim()
	assert.Equal(t, clock.Candidate, a.Role())
	sched.Advance(2 * time.Second)

	assert.True(t, a.IsLeader())
	assert.Equal(t, "a", a.LeaderID())
	assert.Equal(t, []clock.Role{clock.Candidate, clock.Leader}, roles)
}

func TestElectorLeaderSuppressesClaims(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	b := m.join("b", electionConfig(), sched)
	b.Claim()
	sched.Advance(2 * time.Second)
	require.True(t, b.IsLeader())

	a := m.join("a", electionConfig(), sched)
	a.Claim()

	assert.Equal(t, clock.Follower, a.Role(), "the leader's answer ends the claim at once")
	assert.Equal(t, "b", a.LeaderID())

	sched.Advance(time.Minute)
	assert.True(t, b.IsLeader())
	assert.False(t, a.IsLeader())
}

func TestElectorLeaderFailover(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	a := m.join("a", electionConfig(), sched)
	b := m.join("b", electionConfig(), sched)
	var warnings []clock.Warning
	b.Warnings().Subscribe(func(w clock.Warning) { warnings = append(warnings, w) })

	a.Claim()
	sched.Advance(2 * time.Second)
	require.True(t, a.IsLeader())
	require.Equal(t, "a", b.LeaderID())

	sched.Advance(10 * time.Second)
	assert.Equal(t, clock.Follower, b.Role())

	m.down["a"] = true
	sched.Advance(15 * time.Second)
	assert.Equal(t, clock.Follower, b.Role(), "three missed heartbeats are needed")

	sched.Advance(10 * time.Second)
	assert.True(t, b.IsLeader())
	assert.Empty(t, warnings)

	c := m.join("c", electionConfig(), sched)
	c.Claim()
	sched.Advance(time.Minute)
	assert.Equal(t, clock.Follower, c.Role())
	assert.Equal(t, "b", c.LeaderID())
	assert.True(t, b.IsLeader())
}

func TestElectorTwoLeadersResolveToLowestID(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	a := m.join("a", electionConfig(), sched)
	b := m.join("b", electionConfig(), sched)

	m.down["a"] = true
	a.Claim()
	b.Claim()
	sched.Advance(2 * time.Second)
	require.True(t, a.IsLeader())
	require.True(t, b.IsLeader())

	delete(m.down, "a")
	sched.Advance(5 * time.Second)

	assert.True(t, a.IsLeader())
	assert.Equal(t, clock.Follower, b.Role())
	assert.Equal(t, "a", b.LeaderID())
}

func TestElectorCandidateYieldsToLowerClaimant(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	b := m.join("b", electionConfig(), sched)
	m.join("a", electionConfig(), sched)

	b.Claim()
	m.peers["a"].Claim()
	assert.Equal(t, clock.Follower, b.Role())

	sched.Advance(2 * time.Second)
	assert.True(t, m.peers["a"].IsLeader())
	assert.Equal(t, "a", b.LeaderID())
}

func TestElectorWarnsWhenLeaderless(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	cfg := electionConfig()
	cfg.Eligible = false
	observer := m.join("z", cfg, sched)

	var warnings []clock.Warning
	observer.Warnings().Subscribe(func(w clock.Warning) { warnings = append(warnings, w) })

	observer.Claim()
	assert.Equal(t, clock.Follower, observer.Role(), "ineligible clients never claim")

	sched.Advance(25 * time.Second)
	assert.Empty(t, warnings)

	sched.Advance(5 * time.Second)
	require.Len(t, warnings, 1)
	assert.Equal(t, epoch, warnings[0].Since)

	sched.Advance(time.Minute)
	assert.Len(t, warnings, 1, "warned once per leaderless stretch")

	observer.HandleHeartbeat("a")
	assert.Equal(t, "a", observer.LeaderID())
}

func TestElectorCloseStepsDown(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(epoch)
	m := newMesh()
	a := m.join("a", electionConfig(), sched)
	a.Claim()
	sched.Advance(2 * time.Second)
	require.True(t, a.IsLeader())

	a.Close()
	assert.Equal(t, clock.Follower, a.Role())
	assert.Empty(t, a.LeaderID())
	assert.Equal(t, 0, sched.Pending())
}
