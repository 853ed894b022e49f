// Package sched hosts the periodic work: it drives the health
// monitor's cooperative Update with measured wall-clock deltas and
// refreshes the uptime metric.
package sched

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
)

// Updater consumes elapsed time, normally the registry.
type Updater interface {
	Update(dt time.Duration)
}

// Runner schedules cron jobs around the registry lifecycle.
type Runner struct {
	cron *cron.Cron
	log  *logging.Logger
}

// NewRunner creates an idle runner.
func NewRunner(log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewDefault("sched")
	}
	return &Runner{
		cron: cron.New(),
		log:  log,
	}
}

// AddHealthTick schedules spec to feed measured elapsed time into u.
func (r *Runner) AddHealthTick(spec string, u Updater) error {
	var mu sync.Mutex
	last := time.Now()
	_, err := r.cron.AddFunc(spec, func() {
		mu.Lock()
		now := time.Now()
		dt := now.Sub(last)
		last = now
		mu.Unlock()
		u.Update(dt)
	})
	return err
}

// AddUptime schedules spec to refresh the uptime metric.
func (r *Runner) AddUptime(spec string, rec metrics.Recorder) error {
	_, err := r.cron.AddFunc(spec, rec.UpdateUptime)
	return err
}

// AddFunc schedules an arbitrary job.
func (r *Runner) AddFunc(spec string, fn func()) error {
	_, err := r.cron.AddFunc(spec, fn)
	return err
}

// Start begins executing scheduled jobs.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("scheduler stopped")
}
