package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/drift"
	"github.com/stakebound/core/pkg/groups"
	"github.com/stakebound/core/pkg/lifecycle"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

// Jobs holds the job implementations. The Scheduler wraps them with
// leasing; they can also be invoked directly in tests.
type Jobs struct {
	contracts store.ContractStore
	markers   store.MarkerStore
	engine    *lifecycle.Engine
	detector  *drift.Detector
	resolver  *groups.Resolver
	textgen   textgen.Generator
	notifier  notify.Notifier
	profile   config.EnforcementProfile
	log       *slog.Logger
	clock     func() time.Time
}

// NewJobs wires the job set. A nil logger falls back to the default.
func NewJobs(
	cs store.ContractStore,
	ms store.MarkerStore,
	engine *lifecycle.Engine,
	detector *drift.Detector,
	resolver *groups.Resolver,
	gen textgen.Generator,
	n notify.Notifier,
	profile config.EnforcementProfile,
	log *slog.Logger,
) *Jobs {
	if log == nil {
		log = slog.Default()
	}
	return &Jobs{
		contracts: cs,
		markers:   ms,
		engine:    engine,
		detector:  detector,
		resolver:  resolver,
		textgen:   gen,
		notifier:  n,
		profile:   profile,
		log:       log.With("component", "jobs"),
		clock:     time.Now,
	}
}

// Enforcement moves overdue ACTIVE contracts into PENDING_VERIFICATION
// and applies the grace, self-verify, and cutoff rules to every
// PENDING_VERIFICATION contract. Each contract is processed on its own;
// one failure never aborts the batch.
func (j *Jobs) Enforcement(ctx context.Context, r *Result) {
	now := j.clock()

	overdue, err := j.contracts.ListOverdueActive(ctx, now)
	if err != nil {
		r.captureError("list_overdue", err)
		return
	}
	for _, c := range overdue {
		won, err := j.engine.MarkOverdue(ctx, c.ID)
		if err != nil {
			r.captureError(c.ID, err)
			continue
		}
		if won {
			r.add("marked_overdue", 1)
		}
	}

	pending, err := j.contracts.ListPendingVerification(ctx)
	if err != nil {
		r.captureError("list_pending", err)
		return
	}
	for _, c := range pending {
		outcome, err := j.engine.Enforce(ctx, c)
		if err != nil {
			r.captureError(c.ID, err)
			continue
		}
		switch outcome {
		case lifecycle.OutcomeFailed:
			r.add("failed", 1)
		case lifecycle.OutcomeSucceeded:
			r.add("succeeded", 1)
		case lifecycle.OutcomeSelfVerifyOffered:
			r.add("self_verify_offered", 1)
		}
	}
}

// Reminders sends deadline reminders at the configured lead times. The
// reminder stamp is a conditional write made before dispatch, so a
// crashed run loses a reminder rather than duplicating one.
func (j *Jobs) Reminders(ctx context.Context, r *Result) {
	now := j.clock()
	cooldown := time.Duration(j.profile.ReminderCooldownHours) * time.Hour

	for _, leadHours := range j.profile.ReminderLeadHours {
		lead := time.Duration(leadHours) * time.Hour
		due, err := j.contracts.ListDueForReminder(ctx, now, lead, cooldown)
		if err != nil {
			r.captureError(fmt.Sprintf("list_due_%dh", leadHours), err)
			continue
		}

		for _, c := range due {
			won, err := j.contracts.MarkReminderSent(ctx, c.ID, now, cooldown)
			if err != nil {
				r.captureError(c.ID, err)
				continue
			}
			if !won {
				continue
			}

			hoursLeft := int(c.Deadline.Sub(now).Hours())
			text, err := j.textgen.Generate(ctx, textgen.Request{
				Kind:               textgen.KindReminder,
				UserID:             c.UserID,
				GoalID:             c.GoalID,
				HoursUntilDeadline: hoursLeft,
				StakeSummary:       stakeSummary(c),
			})
			if err != nil {
				// stamp already written: at-most-once means this
				// reminder is lost, not retried
				r.captureError(c.ID, err)
				continue
			}
			if err := j.notifier.Send(ctx, notify.Message{
				UserID:     c.UserID,
				ContractID: c.ID,
				Kind:       "deadline_reminder",
				Body:       text,
			}); err != nil {
				r.captureError(c.ID, err)
				continue
			}
			r.add("sent", 1)
		}
	}
}

// RefereeFollowUp pings each referee with pending verifications at most
// once per follow-up TTL. The marker is written before the send.
func (j *Jobs) RefereeFollowUp(ctx context.Context, r *Result) {
	now := j.clock()
	ttl := time.Duration(j.profile.FollowUpTTLHours) * time.Hour

	pending, err := j.contracts.ListPendingVerification(ctx)
	if err != nil {
		r.captureError("list_pending", err)
		return
	}

	byReferee := map[string][]*contracts.CommitmentContract{}
	for _, c := range pending {
		if c.VerificationMethod != contracts.VerifyReferee || c.RefereeID == "" {
			continue
		}
		byReferee[c.RefereeID] = append(byReferee[c.RefereeID], c)
	}

	for refereeID, waiting := range byReferee {
		marked, err := j.markers.TryMarkFollowUp(ctx, refereeID, now, ttl)
		if err != nil {
			r.captureError(refereeID, err)
			continue
		}
		if !marked {
			continue
		}

		text, err := j.textgen.Generate(ctx, textgen.Request{Kind: textgen.KindFollowUp, UserID: refereeID})
		if err != nil {
			text = fmt.Sprintf("You have %d contract(s) awaiting your verdict.", len(waiting))
		}
		if err := j.notifier.Send(ctx, notify.Message{
			UserID: refereeID,
			Kind:   "referee_followup",
			Body:   text,
		}); err != nil {
			r.captureError(refereeID, err)
			continue
		}
		r.add("followed_up", 1)
	}
}

// GroupResolution resolves fully terminal groups and awards bonuses.
func (j *Jobs) GroupResolution(ctx context.Context, r *Result) {
	outcomes, err := j.resolver.ResolveAll(ctx)
	if err != nil {
		r.captureError("resolve", err)
		return
	}
	r.add("resolved", len(outcomes))
	for _, o := range outcomes {
		if o.BonusAwarded {
			r.add("bonuses_awarded", 1)
		}
	}
}

// GroupNudge sends the weekly group check-ins.
func (j *Jobs) GroupNudge(ctx context.Context, r *Result) {
	sent, err := j.resolver.Nudge(ctx)
	if err != nil {
		r.captureError("nudge", err)
		return
	}
	r.add("sent", sent)
}

// DriftScan analyzes every ACTIVE contract for slip.
func (j *Jobs) DriftScan(ctx context.Context, r *Result) {
	reports, err := j.detector.Scan(ctx)
	if err != nil {
		r.captureError("scan", err)
		return
	}
	r.add("analyzed", len(reports))
	for _, report := range reports {
		if report.Level == contracts.RiskNone {
			continue
		}
		r.add("at_risk", 1)
		if report.Suppressed {
			r.add("suppressed", 1)
		} else if report.SkipReason == "" {
			r.add("nudged", 1)
		}
	}
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
