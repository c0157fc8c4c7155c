package schedule

import (
	"sync"
	"time"
)

// Manual is a scheduler driven by Advance instead of the wall clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	jobs   map[int]*manualJob
}

type manualJob struct {
	due    time.Time
	period time.Duration // zero for one-shot jobs
	fn     func()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, jobs: make(map[int]*manualJob)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		d = time.Second
	}
	return m.add(&manualJob{period: d, fn: fn}, d)
}

func (m *Manual) After(d time.Duration, fn func()) (cancel func()) {
	return m.add(&manualJob{fn: fn}, d)
}

func (m *Manual) add(j *manualJob, d time.Duration) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.due = m.now.Add(d)
	id := m.nextID
	m.nextID++
	m.jobs[id] = j
	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
}

// Pending returns the number of scheduled jobs.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Advance moves virtual time forward by d, running every job that falls
// due on the way in due order. Jobs run without the lock held and may
// schedule or cancel other jobs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		id, j := m.earliestLocked(target)
		if j == nil {
			break
		}
		m.now = j.due
		if j.period == 0 {
			delete(m.jobs, id)
		} else {
			j.due = j.due.Add(j.period)
		}
		fn := j.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

func (m *Manual) earliestLocked(limit time.Time) (int, *manualJob) {
	bestID, best := -1, (*manualJob)(nil)
	for id, j := range m.jobs {
		if j.due.After(limit) {
			continue
		}
		if best == nil || j.due.Before(best.due) || (j.due.Equal(best.due) && id < bestID) {
			bestID, best = id, j
		}
	}
	return bestID, best
}
