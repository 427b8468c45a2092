// Package worker runs periodic background jobs such as the hold sweeper
// and the archiver.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Runner invokes a Task once at start and then on every tick until its
// context is cancelled.  Running at start re-arms work left over from a
// previous process, such as holds that expired while it was down.
type Runner struct {
	name     string
	interval time.Duration
	task     Task
	log      *logrus.Entry
}

func NewRunner(name string, interval time.Duration, task Task) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		log:      logrus.WithField("worker", name),
	}
}

// Start blocks until ctx is done.
func (w *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval.String()).Info("worker started")
	w.run(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *Runner) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := w.task(ctx); err != nil && ctx.Err() == nil {
		w.log.WithError(err).WithField("duration", time.Since(start)).Error("worker run failed")
		return
	}
	w.log.WithField("duration", time.Since(start)).Debug("worker run completed")
}

// Stats describes the runner for health output.
func (w *Runner) Stats() map[string]interface{} {
	return map[string]interface{}{
		"worker":   w.name,
		"interval": w.interval.String(),
	}
}
