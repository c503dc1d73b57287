// Package drift detects slip: the shortfall between expected and actual
// progress toward a goal given elapsed time. Qualifying risk produces a
// proactive intervention nudge, throttled per contract by the fatigue
// window.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

// ProgressSource supplies goal progress snapshots from the goal
// collaborator.
type ProgressSource interface {
	Progress(ctx context.Context, goalID string) (*contracts.GoalProgress, error)
}

// Detector analyzes ACTIVE contracts for slip and dispatches
// interventions.
type Detector struct {
	contracts store.ContractStore
	markers   store.MarkerStore
	progress  ProgressSource
	textgen   textgen.Generator
	notifier  notify.Notifier
	profile   config.EnforcementProfile
	log       *slog.Logger
	clock     func() time.Time
}

// NewDetector wires a detector. A nil logger falls back to the default.
func NewDetector(cs store.ContractStore, ms store.MarkerStore, src ProgressSource, gen textgen.Generator, n notify.Notifier, profile config.EnforcementProfile, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		contracts: cs,
		markers:   ms,
		progress:  src,
		textgen:   gen,
		notifier:  n,
		profile:   profile,
		log:       log.With("component", "drift"),
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Analyze computes the drift report for one contract against a progress
// snapshot. Pure: no I/O, no suppression, deterministic for a fixed
// now.
//
// Classification is first match wins: high when the gap exceeds the
// high threshold or the deadline is close and any meaningful gap
// remains; medium and low on their thresholds; none otherwise.
func (d *Detector) Analyze(c *contracts.CommitmentContract, p *contracts.GoalProgress, now time.Time) contracts.DriftReport {
	report := contracts.DriftReport{
		ContractID: c.ID,
		Level:      contracts.RiskNone,
		AnalyzedAt: now,
	}

	totalDays := c.Deadline.Sub(p.StartedAt).Hours() / 24
	if totalDays <= 0 {
		report.SkipReason = "deadline not after goal start"
		return report
	}
	elapsedDays := now.Sub(p.StartedAt).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	elapsed := elapsedDays / totalDays
	if elapsed > 1 {
		elapsed = 1
	}
	report.ElapsedRatio = elapsed

	daysRemaining := int(c.Deadline.Sub(now).Hours() / 24)
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	report.DaysRemaining = daysRemaining

	if p.TargetMinor <= 0 {
		report.SkipReason = "goal has no target"
		return report
	}

	expected := elapsed * float64(p.TargetMinor)
	report.ExpectedProgress = expected

	gap := (expected - float64(p.CurrentMinor)) / float64(p.TargetMinor)
	if gap < 0 {
		gap = 0
	}
	if gap > 1 {
		gap = 1
	}
	report.ProgressGap = gap

	switch {
	case gap > d.profile.HighThreshold,
		daysRemaining <= d.profile.UrgentDays && gap > d.profile.UrgentGap:
		report.Level = contracts.RiskHigh
	case gap > d.profile.MediumThreshold:
		report.Level = contracts.RiskMedium
	case gap > d.profile.LowThreshold:
		report.Level = contracts.RiskLow
	}
	return report
}

// Scan analyzes every ACTIVE contract and dispatches an intervention
// for each qualifying, non-suppressed risk. One contract's failure is
// recorded on its report and never aborts the rest of the scan.
func (d *Detector) Scan(ctx context.Context) ([]contracts.DriftReport, error) {
	active, err := d.contracts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active contracts: %w", err)
	}

	reports := make([]contracts.DriftReport, 0, len(active))
	for _, c := range active {
		reports = append(reports, d.scanOne(ctx, c))
	}
	return reports, nil
}

func (d *Detector) scanOne(ctx context.Context, c *contracts.CommitmentContract) contracts.DriftReport {
	now := d.clock()

	p, err := d.progress.Progress(ctx, c.GoalID)
	if err != nil {
		d.log.Warn("progress lookup failed", "contract_id", c.ID, "goal_id", c.GoalID, "error", err)
		return contracts.DriftReport{
			ContractID: c.ID,
			Level:      contracts.RiskNone,
			SkipReason: fmt.Sprintf("progress lookup failed: %v", err),
			AnalyzedAt: now,
		}
	}

	report := d.Analyze(c, p, now)
	if report.Level == contracts.RiskNone {
		return report
	}

	last, err := d.markers.LastNudgeAt(ctx, c.ID)
	if err != nil {
		d.log.Warn("fatigue lookup failed", "contract_id", c.ID, "error", err)
		report.SkipReason = fmt.Sprintf("fatigue lookup failed: %v", err)
		report.Suppressed = true
		return report
	}
	fatigue := time.Duration(d.profile.FatigueHours) * time.Hour
	if last != nil && now.Sub(*last) < fatigue {
		report.Suppressed = true
		report.SkipReason = "inside fatigue window"
		return report
	}

	if err := d.intervene(ctx, c, report, now); err != nil {
		d.log.Warn("intervention failed", "contract_id", c.ID, "error", err)
		report.SkipReason = fmt.Sprintf("intervention failed: %v", err)
	}
	return report
}

// intervene stamps the fatigue marker, generates the nudge text, and
// delivers it. The marker is written first: a delivery failure costs
// one nudge, a marker failure never double-sends.
func (d *Detector) intervene(ctx context.Context, c *contracts.CommitmentContract, report contracts.DriftReport, now time.Time) error {
	if err := d.markers.StampNudge(ctx, c.ID, now); err != nil {
		return fmt.Errorf("stamping nudge: %w", err)
	}
	if err := d.contracts.StampSlipDetected(ctx, c.ID, now); err != nil {
		d.log.Warn("slip stamp failed", "contract_id", c.ID, "error", err)
	}

	text, err := d.textgen.Generate(ctx, textgen.Request{
		Kind:          textgen.KindIntervention,
		UserID:        c.UserID,
		GoalID:        c.GoalID,
		Risk:          report.Level,
		ProgressGap:   report.ProgressGap,
		DaysRemaining: report.DaysRemaining,
		StakeSummary:  stakeSummary(c),
	})
	if err != nil {
		return fmt.Errorf("generating nudge: %w", err)
	}

	if err := d.notifier.Send(ctx, notify.Message{
		UserID:     c.UserID,
		ContractID: c.ID,
		Kind:       "drift_nudge",
		Body:       text,
	}); err != nil {
		return fmt.Errorf("delivering nudge: %w", err)
	}

	d.log.Info("intervention delivered",
		"contract_id", c.ID, "level", string(report.Level), "gap", report.ProgressGap)
	return nil
}

func stakeSummary(c *contracts.CommitmentContract) string {
	switch c.StakeType {
	case contracts.StakeLossPool:
		if c.StakeAmount != nil {
			return c.StakeAmount.String() + " to the loss pool"
		}
	case contracts.StakeAntiCharity:
		if c.StakeAmount != nil {
			return c.StakeAmount.String() + " to " + c.AntiCharityCause
		}
	}
	return "your accountability streak"
}
