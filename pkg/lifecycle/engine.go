// Package lifecycle implements the contract state machine: creation,
// overdue enforcement, verification decisions, cancellation, and the
// terminal settlement paths.
//
// Every transition is a conditional update guarded by the persisted
// status. Losing that compare-and-swap means a concurrent actor already
// moved the contract, which is an expected, harmless outcome. Terminal
// statuses are written only after the corresponding ledger settlement is
// acknowledged, so a persisted FAILED or SUCCEEDED always reflects a
// completed settlement.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/finance"
	"github.com/stakebound/core/pkg/ledger"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

// Outcome reports what an enforcement step did to one contract.
type Outcome string

const (
	OutcomeNone              Outcome = "none"
	OutcomeMarkedOverdue     Outcome = "marked_overdue"
	OutcomeSelfVerifyOffered Outcome = "self_verify_offered"
	OutcomeFailed            Outcome = "failed"
	OutcomeSucceeded         Outcome = "succeeded"
)

// ValidationError carries the structural stake violations from a create
// attempt. Renderable to the end user as-is.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid stake: " + strings.Join(e.Violations, "; ")
}

// CreateParams describes a new commitment contract.
type CreateParams struct {
	UserID             string
	GoalID             string
	GroupID            string
	StakeType          contracts.StakeType
	StakeAmount        *finance.Money
	AntiCharityCause   string
	AntiCharityURL     string
	VerificationMethod contracts.VerificationMethod
	RefereeID          string
	Deadline           time.Time
}

// ProgressSource supplies point-in-time goal progress snapshots from
// the goal collaborator.
type ProgressSource interface {
	Progress(ctx context.Context, goalID string) (*contracts.GoalProgress, error)
}

// Engine drives contract lifecycle transitions.
type Engine struct {
	store    store.ContractStore
	ledger   *ledger.StakeLedger
	textgen  textgen.Generator
	notifier notify.Notifier
	progress ProgressSource
	profile  config.EnforcementProfile
	log      *slog.Logger
	clock    func() time.Time

	debriefs sync.WaitGroup
}

// NewEngine wires the state machine. A nil logger falls back to the
// default.
func NewEngine(st store.ContractStore, lg *ledger.StakeLedger, gen textgen.Generator, n notify.Notifier, profile config.EnforcementProfile, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    st,
		ledger:   lg,
		textgen:  gen,
		notifier: n,
		profile:  profile,
		log:      log.With("component", "lifecycle"),
		clock:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithProgressSource wires the goal progress collaborator, used to
// grade achievement tiers on success. Optional; without it every
// success earns bronze.
func (e *Engine) WithProgressSource(src ProgressSource) *Engine {
	e.progress = src
	return e
}

// Wait blocks until in-flight debrief goroutines finish. Called on
// shutdown.
func (e *Engine) Wait() {
	e.debriefs.Wait()
}

// Create validates the stake, persists a new ACTIVE contract, and locks
// funds for LOSS_POOL stakes. A failed fund lock cancels the freshly
// created record so the goal is not left blocked.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*contracts.CommitmentContract, error) {
	now := e.clock()

	if violations := e.ledger.ValidateStake(p.StakeType, p.StakeAmount, p.AntiCharityCause); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	if !p.Deadline.After(now) {
		return nil, &ValidationError{Violations: []string{"deadline must be in the future"}}
	}
	if p.VerificationMethod == contracts.VerifyReferee && p.RefereeID == "" {
		return nil, &ValidationError{Violations: []string{"referee verification requires a referee"}}
	}

	c := &contracts.CommitmentContract{
		ID:                 uuid.New().String(),
		UserID:             p.UserID,
		GoalID:             p.GoalID,
		GroupID:            p.GroupID,
		StakeType:          p.StakeType,
		StakeAmount:        p.StakeAmount,
		AntiCharityCause:   p.AntiCharityCause,
		AntiCharityURL:     p.AntiCharityURL,
		VerificationMethod: p.VerificationMethod,
		RefereeID:          p.RefereeID,
		Deadline:           p.Deadline,
		CreatedAt:          now,
		Status:             contracts.StatusActive,
	}
	if err := e.store.Create(ctx, c); err != nil {
		return nil, err
	}

	if p.StakeType == contracts.StakeLossPool {
		if _, err := e.ledger.LockFunds(ctx, p.UserID, c.ID, *p.StakeAmount); err != nil {
			if _, cerr := e.store.UpdateStatus(ctx, c.ID, contracts.StatusActive, contracts.StatusCancelled, now); cerr != nil {
				e.log.Error("failed to void contract after fund lock failure", "contract_id", c.ID, "error", cerr)
			}
			return nil, fmt.Errorf("locking stake for contract %s: %w", c.ID, err)
		}
	}

	e.log.Info("contract created",
		"contract_id", c.ID, "user_id", c.UserID, "goal_id", c.GoalID,
		"stake_type", string(c.StakeType), "deadline", c.Deadline)
	return c, nil
}

// MarkOverdue moves an ACTIVE contract past its deadline into
// PENDING_VERIFICATION. Returns false when a concurrent actor won the
// transition first.
func (e *Engine) MarkOverdue(ctx context.Context, id string) (bool, error) {
	return e.store.UpdateStatus(ctx, id, contracts.StatusActive, contracts.StatusPendingVerification, e.clock())
}

// Enforce applies the overdue rules to one PENDING_VERIFICATION
// contract and reports what happened. The ordering mirrors the rule
// precedence: expired self-verify window, hard cutoff, self-verify
// offer, verification window for non-referee methods.
func (e *Engine) Enforce(ctx context.Context, c *contracts.CommitmentContract) (Outcome, error) {
	now := e.clock()
	overdue := c.HoursOverdue(now)

	if c.SelfVerifyExpiresAt != nil && now.After(*c.SelfVerifyExpiresAt) && c.SelfVerifiedAt == nil {
		return e.fail(ctx, c, "self-verify window expired")
	}

	if overdue >= float64(e.profile.HardCutoffHours) {
		return e.fail(ctx, c, "hard cutoff reached")
	}

	if c.VerificationMethod == contracts.VerifyReferee {
		if c.SelfVerifyOfferedAt == nil && overdue >= float64(e.profile.GracePeriodHours) {
			return e.offerSelfVerify(ctx, c, now)
		}
		return OutcomeNone, nil
	}

	if overdue >= float64(e.profile.VerificationWindowHours) {
		return e.fail(ctx, c, "verification window elapsed")
	}
	return OutcomeNone, nil
}

func (e *Engine) offerSelfVerify(ctx context.Context, c *contracts.CommitmentContract, now time.Time) (Outcome, error) {
	expires := now.Add(time.Duration(e.profile.SelfVerifyWindowHours) * time.Hour)
	ok, err := e.store.OfferSelfVerify(ctx, c.ID, now, expires)
	if err != nil {
		return OutcomeNone, fmt.Errorf("offering self-verify for contract %s: %w", c.ID, err)
	}
	if !ok {
		return OutcomeNone, nil
	}

	e.notifyBestEffort(ctx, notify.Message{
		UserID:     c.UserID,
		ContractID: c.ID,
		Kind:       "self_verify_offer",
		Body: fmt.Sprintf("Your referee hasn't responded. You can confirm the outcome yourself until %s.",
			expires.Format(time.RFC1123)),
	})
	e.log.Info("self-verify offered", "contract_id", c.ID, "expires_at", expires)
	return OutcomeSelfVerifyOffered, nil
}

// RefereeDecide records a referee's verdict on a PENDING_VERIFICATION
// contract.
func (e *Engine) RefereeDecide(ctx context.Context, contractID, refereeID string, approved bool) (Outcome, error) {
	c, err := e.store.Get(ctx, contractID)
	if err != nil {
		return OutcomeNone, err
	}
	if c.RefereeID == "" || c.RefereeID != refereeID {
		return OutcomeNone, contracts.ErrNotReferee
	}
	if c.Status != contracts.StatusPendingVerification {
		return OutcomeNone, fmt.Errorf("%w: contract %s is %s", contracts.ErrInvalidTransition, c.ID, c.Status)
	}

	if approved {
		return e.succeed(ctx, c)
	}
	return e.fail(ctx, c, "referee rejected")
}

// SelfVerify records the owner's own verdict inside an open self-verify
// window.
func (e *Engine) SelfVerify(ctx context.Context, contractID, userID string, completed bool) (Outcome, error) {
	c, err := e.store.Get(ctx, contractID)
	if err != nil {
		return OutcomeNone, err
	}
	if c.UserID != userID {
		return OutcomeNone, contracts.ErrNotOwner
	}
	now := e.clock()
	if c.SelfVerifyOfferedAt == nil || c.SelfVerifyExpiresAt == nil || now.After(*c.SelfVerifyExpiresAt) {
		return OutcomeNone, contracts.ErrSelfVerifyWindowClosed
	}

	ok, err := e.store.RecordSelfVerify(ctx, c.ID, now)
	if err != nil {
		return OutcomeNone, fmt.Errorf("recording self-verify for contract %s: %w", c.ID, err)
	}
	if !ok {
		return OutcomeNone, contracts.ErrSelfVerifyWindowClosed
	}

	if completed {
		return e.succeed(ctx, c)
	}
	return e.fail(ctx, c, "owner reported failure")
}

// Cancel voids an ACTIVE contract before its deadline. The refund
// schedule scales with proximity to the deadline: a full refund a week
// or more out, an even split inside the final week, and full forfeiture
// inside the final day.
func (e *Engine) Cancel(ctx context.Context, contractID, userID string) error {
	c, err := e.store.Get(ctx, contractID)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return contracts.ErrNotOwner
	}
	now := e.clock()
	if c.Status != contracts.StatusActive || !now.Before(c.Deadline) {
		return contracts.ErrNotCancellable
	}

	if c.StakeType == contracts.StakeLossPool {
		if err := e.settleCancellation(ctx, c, now); err != nil {
			return err
		}
	}

	ok, err := e.store.UpdateStatus(ctx, c.ID, contracts.StatusActive, contracts.StatusCancelled, now)
	if err != nil {
		return fmt.Errorf("cancelling contract %s: %w", c.ID, err)
	}
	if !ok {
		return contracts.ErrNotCancellable
	}
	e.log.Info("contract cancelled", "contract_id", c.ID, "user_id", userID)
	return nil
}

func (e *Engine) settleCancellation(ctx context.Context, c *contracts.CommitmentContract, now time.Time) error {
	left := c.Deadline.Sub(now)
	switch {
	case left >= 7*24*time.Hour:
		return e.ledger.ReleaseFunds(ctx, c.ID)
	case left >= 24*time.Hour:
		refund, penalty := c.StakeAmount.SplitRatio(50)
		return e.ledger.ProcessPartialRefund(ctx, c.ID, refund, penalty)
	default:
		return e.ledger.ForfeitLossPool(ctx, c.ID)
	}
}

// succeed settles the stake, then writes SUCCEEDED. Progress, when
// known, grades the achievement tier in the congratulation.
func (e *Engine) succeed(ctx context.Context, c *contracts.CommitmentContract) (Outcome, error) {
	if c.StakeType == contracts.StakeLossPool {
		if err := e.ledger.ReleaseFunds(ctx, c.ID); err != nil {
			return OutcomeNone, fmt.Errorf("releasing stake for contract %s: %w", c.ID, err)
		}
	}

	now := e.clock()
	ok, err := e.store.UpdateStatus(ctx, c.ID, c.Status, contracts.StatusSucceeded, now)
	if err != nil {
		return OutcomeNone, fmt.Errorf("marking contract %s succeeded: %w", c.ID, err)
	}
	if !ok {
		e.log.Warn("lost succeed transition race", "contract_id", c.ID)
		return OutcomeNone, nil
	}

	var progress *contracts.GoalProgress
	if e.progress != nil {
		// best effort: an unreachable goal service must not undo a
		// completed settlement
		if p, perr := e.progress.Progress(ctx, c.GoalID); perr == nil {
			progress = p
		} else {
			e.log.Warn("progress lookup failed", "goal_id", c.GoalID, "error", perr)
		}
	}
	tier := TierFor(progress)
	e.notifyBestEffort(ctx, notify.Message{
		UserID:     c.UserID,
		ContractID: c.ID,
		Kind:       "contract_succeeded",
		Body:       fmt.Sprintf("Goal verified. %s tier achievement unlocked and your stake is safe.", tier),
	})
	e.log.Info("contract succeeded", "contract_id", c.ID, "tier", string(tier))
	return OutcomeSucceeded, nil
}

// fail settles the stake by type, then writes FAILED, then fires the
// best-effort debrief.
func (e *Engine) fail(ctx context.Context, c *contracts.CommitmentContract, reason string) (Outcome, error) {
	switch c.StakeType {
	case contracts.StakeLossPool:
		if err := e.ledger.ForfeitLossPool(ctx, c.ID); err != nil {
			return OutcomeNone, fmt.Errorf("forfeiting stake for contract %s: %w", c.ID, err)
		}
	case contracts.StakeAntiCharity:
		if c.StakeAmount != nil {
			_, err := e.ledger.ExecuteAntiCharityDonation(ctx, c.UserID, c.ID, *c.StakeAmount, c.AntiCharityCause, c.AntiCharityURL)
			if err != nil {
				return OutcomeNone, fmt.Errorf("donating stake for contract %s: %w", c.ID, err)
			}
		}
	}

	now := e.clock()
	ok, err := e.store.UpdateStatus(ctx, c.ID, c.Status, contracts.StatusFailed, now)
	if err != nil {
		return OutcomeNone, fmt.Errorf("marking contract %s failed: %w", c.ID, err)
	}
	if !ok {
		e.log.Warn("lost fail transition race", "contract_id", c.ID, "reason", reason)
		return OutcomeNone, nil
	}

	e.log.Info("contract failed", "contract_id", c.ID, "reason", reason)
	e.sendDebrief(c)
	return OutcomeFailed, nil
}

// sendDebrief generates and delivers the post-failure debrief in the
// background. Failures are logged, never propagated.
func (e *Engine) sendDebrief(c *contracts.CommitmentContract) {
	e.debriefs.Add(1)
	go func() {
		defer e.debriefs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := e.textgen.Generate(ctx, textgen.Request{
			Kind:         textgen.KindDebrief,
			UserID:       c.UserID,
			GoalID:       c.GoalID,
			StakeSummary: stakeSummary(c),
		})
		if err != nil {
			e.log.Warn("debrief generation failed", "contract_id", c.ID, "error", err)
			return
		}
		if err := e.notifier.Send(ctx, notify.Message{
			UserID:     c.UserID,
			ContractID: c.ID,
			Kind:       "debrief",
			Body:       text,
		}); err != nil {
			e.log.Warn("debrief delivery failed", "contract_id", c.ID, "error", err)
		}
	}()
}

func (e *Engine) notifyBestEffort(ctx context.Context, msg notify.Message) {
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.log.Warn("notification failed", "user_id", msg.UserID, "kind", msg.Kind, "error", err)
	}
}

// TierFor grades final progress into an achievement tier. Unknown
// progress earns bronze.
func TierFor(p *contracts.GoalProgress) contracts.AchievementTier {
	if p == nil || p.TargetMinor <= 0 {
		return contracts.TierBronze
	}
	ratio := float64(p.CurrentMinor) / float64(p.TargetMinor)
	switch {
	case ratio >= 1.0:
		return contracts.TierPlatinum
	case ratio >= 0.85:
		return contracts.TierGold
	case ratio >= 0.60:
		return contracts.TierSilver
	default:
		return contracts.TierBronze
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
