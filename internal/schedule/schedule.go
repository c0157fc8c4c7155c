// Package schedule runs recurring and one-shot jobs for the clock and the
// leader election. Cron is the production implementation; Manual is a
// virtual-time implementation for tests and offline stepping.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	appLog "simcal/internal/log"
)

// Cron schedules recurring jobs on a robfig/cron runner. A job never
// overlaps with itself: a run that is still in progress when the next one
// is due makes that next run skip.
type Cron struct {
	c *cron.Cron
}

// NewCron creates and starts a runner.
func NewCron() *Cron {
	l := appLog.CronLogger()
	c := cron.New(
		cron.WithChain(cron.SkipIfStillRunning(l), cron.Recover(l)),
		cron.WithLogger(l),
	)
	c.Start()
	return &Cron{c: c}
}

// Every runs fn every d until the returned cancel func is called.
// Intervals are whole seconds, at least one.
func (s *Cron) Every(d time.Duration, fn func()) (cancel func()) {
	id := s.c.Schedule(cron.Every(d), cron.FuncJob(fn))
	appLog.Debug("schedule: job added", "id", int(id), "every", d.String())
	return func() { s.c.Remove(id) }
}

// After runs fn once after d.
func (s *Cron) After(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (s *Cron) Now() time.Time { return time.Now() }

// Stop stops the runner. The returned context is done once running jobs
// have finished.
func (s *Cron) Stop() context.Context {
	return s.c.Stop()
}
