// Package scheduler provides scheduling logic for PushRelay.
//
// It drives recurring jobs (such as the poll cycle) from cron expressions or
// fixed intervals. A run that would overlap a still-executing job is skipped
// rather than queued, so a slow cycle never stacks up behind itself.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on cron schedules or fixed intervals.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler builds and starts the underlying cron runner.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) plus
	// descriptors like @every and @hourly. Jobs recover from panics and skip
	// runs that would overlap a still-running execution.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task from a cron expression or descriptor such as
// "@every 5m".
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddEvery schedules a task at a fixed interval. Cron schedules have second
// granularity, so sub-second intervals are rejected.
func (s *Scheduler) AddEvery(interval time.Duration, task func()) error {
	if interval < time.Second {
		return fmt.Errorf("interval must be at least one second, got %s", interval)
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(task))
	return nil
}

// Stop halts scheduling and blocks until in-flight jobs drain.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
