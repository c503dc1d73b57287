package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stakebound/core/pkg/config"
)

// Runner drives the scheduler's jobs off ticker intervals. Each job
// runs once at startup and then on its interval until the context is
// cancelled. Lease acquisition keeps concurrent instances from doing
// duplicate work.
type Runner struct {
	scheduler *Scheduler
	cfg       config.Config
	log       *slog.Logger
}

// NewRunner wires a runner. A nil logger falls back to the default.
func NewRunner(s *Scheduler, cfg config.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{scheduler: s, cfg: cfg, log: log.With("component", "runner")}
}

// Start blocks until ctx is cancelled and all in-flight job runs have
// returned.
func (r *Runner) Start(ctx context.Context) {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) Result
	}{
		{JobEnforcement, r.cfg.EnforcementInterval, r.scheduler.RunEnforcement},
		{JobReminders, r.cfg.ReminderInterval, r.scheduler.RunReminders},
		{JobRefereeFollowUp, r.cfg.RefereeFollowUpInterval, r.scheduler.RunRefereeFollowUp},
		{JobGroupResolution, r.cfg.GroupResolutionInterval, r.scheduler.RunGroupResolution},
		{JobGroupNudge, r.cfg.GroupNudgeInterval, r.scheduler.RunGroupNudge},
		{JobDriftScan, r.cfg.DriftScanInterval, r.scheduler.RunDriftScan},
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.interval <= 0 {
			r.log.Warn("job disabled: non-positive interval", "job", job.name)
			continue
		}
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context) Result) {
			defer wg.Done()
			r.loop(ctx, name, interval, run)
		}(job.name, job.interval, job.run)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) Result) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}
