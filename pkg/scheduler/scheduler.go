// Package scheduler runs the periodic enforcement jobs: overdue
// enforcement, deadline reminders, referee follow-ups, group
// resolution, group nudges, and the drift scan.
//
// Every job run takes a named lease first; losing the lease skips the
// whole run for this tick, it is never queued or retried. The lease is
// released in a deferred, token-checked block and renewed at half-TTL
// while the job runs. Inside a run, per-item errors are captured on the
// result and never abort the remaining items.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stakebound/core/pkg/locker"
	"github.com/stakebound/core/pkg/observability"
)

// Job names double as lease keys (prefixed) and metric labels.
const (
	JobEnforcement     = "enforcement"
	JobReminders       = "reminders"
	JobRefereeFollowUp = "referee_followup"
	JobGroupResolution = "group_resolution"
	JobGroupNudge      = "group_nudge"
	JobDriftScan       = "drift_scan"
)

// Result summarizes one job run. A skipped run (lease not acquired)
// reports zero counts and no errors: a full no-op.
type Result struct {
	Job      string
	Skipped  bool
	Counts   map[string]int
	Errors   []string
	Started  time.Time
	Duration time.Duration
}

// Count returns a named counter, zero when absent.
func (r Result) Count(name string) int { return r.Counts[name] }

func newResult(job string, started time.Time) *Result {
	return &Result{Job: job, Counts: map[string]int{}, Started: started}
}

func (r *Result) add(counter string, n int) { r.Counts[counter] += n }

func (r *Result) captureError(itemID string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", itemID, err))
}

// Scheduler wraps the job implementations with leasing, timing, and
// telemetry.
type Scheduler struct {
	jobs    *Jobs
	locker  locker.Locker
	lockTTL time.Duration
	metrics *observability.Provider
	log     *slog.Logger
	clock   func() time.Time
}

// NewScheduler wires a scheduler. metrics may be nil; a nil logger
// falls back to the default.
func NewScheduler(jobs *Jobs, lk locker.Locker, lockTTL time.Duration, metrics *observability.Provider, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		jobs:    jobs,
		locker:  lk,
		lockTTL: lockTTL,
		metrics: metrics,
		log:     log.With("component", "scheduler"),
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	s.jobs.clock = clock
	return s
}

// RunEnforcement executes the enforcement job under its lease.
func (s *Scheduler) RunEnforcement(ctx context.Context) Result {
	return s.runLocked(ctx, JobEnforcement, s.jobs.Enforcement)
}

// RunReminders executes the reminder job under its lease.
func (s *Scheduler) RunReminders(ctx context.Context) Result {
	return s.runLocked(ctx, JobReminders, s.jobs.Reminders)
}

// RunRefereeFollowUp executes the referee follow-up job under its lease.
func (s *Scheduler) RunRefereeFollowUp(ctx context.Context) Result {
	return s.runLocked(ctx, JobRefereeFollowUp, s.jobs.RefereeFollowUp)
}

// RunGroupResolution executes the group resolution job under its lease.
func (s *Scheduler) RunGroupResolution(ctx context.Context) Result {
	return s.runLocked(ctx, JobGroupResolution, s.jobs.GroupResolution)
}

// RunGroupNudge executes the group nudge job under its lease.
func (s *Scheduler) RunGroupNudge(ctx context.Context) Result {
	return s.runLocked(ctx, JobGroupNudge, s.jobs.GroupNudge)
}

// RunDriftScan executes the drift scan under its lease.
func (s *Scheduler) RunDriftScan(ctx context.Context) Result {
	return s.runLocked(ctx, JobDriftScan, s.jobs.DriftScan)
}

// runLocked acquires the job lease, runs fn with background renewal,
// and releases the lease in a deferred token-checked block. A lost
// acquisition returns a skipped all-zero result.
func (s *Scheduler) runLocked(ctx context.Context, job string, fn func(ctx context.Context, r *Result)) Result {
	started := s.clock()
	result := newResult(job, started)

	key := "jobs:" + job
	token := uuid.New().String()

	acquired, err := s.locker.Acquire(ctx, key, token, s.lockTTL)
	if err != nil {
		s.log.Error("lease acquisition errored", "job", job, "error", err)
		result.Skipped = true
		s.record(ctx, result, "skipped")
		return *result
	}
	if !acquired {
		s.log.Debug("lease held elsewhere, skipping", "job", job)
		result.Skipped = true
		s.record(ctx, result, "skipped")
		return *result
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("lease release failed", "job", job, "error", err)
		}
	}()

	renewDone := make(chan struct{})
	defer close(renewDone)
	go s.renewLoop(key, token, renewDone)

	jobCtx := ctx
	if s.metrics != nil {
		var end func()
		jobCtx, end = s.startSpan(ctx, job)
		defer end()
	}

	fn(jobCtx, result)
	result.Duration = s.clock().Sub(started)

	outcome := "completed"
	if len(result.Errors) > 0 {
		outcome = "completed_with_errors"
		s.log.Warn("job finished with item errors", "job", job, "errors", len(result.Errors))
	}
	s.record(ctx, result, outcome)
	s.log.Info("job finished",
		"job", job, "duration", result.Duration, "counts", result.Counts, "errors", len(result.Errors))
	return *result
}

func (s *Scheduler) startSpan(ctx context.Context, job string) (context.Context, func()) {
	spanCtx, span := s.metrics.StartJobSpan(ctx, job)
	return spanCtx, func() { span.End() }
}

// renewLoop extends the lease at half-TTL until done closes. A failed
// renewal is only logged: correctness never depends on the lease.
func (s *Scheduler) renewLoop(key, token string, done <-chan struct{}) {
	interval := s.lockTTL / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := s.locker.Renew(ctx, key, token, s.lockTTL)
			cancel()
			if err != nil {
				s.log.Warn("lease renewal errored", "key", key, "error", err)
			} else if !ok {
				s.log.Warn("lease renewal lost", "key", key)
				return
			}
		}
	}
}

func (s *Scheduler) record(ctx context.Context, r *Result, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordJobRun(ctx, r.Job, outcome, r.Duration)
	for counter, n := range r.Counts {
		s.metrics.RecordJobItems(ctx, r.Job, counter, n)
	}
}
