// Package ledger implements stake validation and settlement: locking
// funds for LOSS_POOL contracts, releasing or forfeiting them on
// terminal outcomes, and executing anti-charity donations.
//
// Settlement is idempotent. LockFunds anchors on the existing LOCKED
// record; release/forfeit/refund treat an absent lock as already
// settled. External payment calls are wrapped in retry-with-backoff and
// acknowledged before any terminal state is persisted.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/finance"
	"github.com/stakebound/core/pkg/payment"
	"github.com/stakebound/core/pkg/retry"
	"github.com/stakebound/core/pkg/store"
)

// successBaseRate is the observed baseline completion rate across all
// stake types. Per-type multipliers scale it for informational display.
const successBaseRate = 0.26

var successMultipliers = map[contracts.StakeType]float64{
	contracts.StakeSocial:      1.0,
	contracts.StakeLossPool:    1.85,
	contracts.StakeAntiCharity: 2.05,
}

// StakeLedger settles stakes against the payment provider and the fund
// lock store.
type StakeLedger struct {
	locks    store.FundLockStore
	provider payment.Provider
	profile  config.EnforcementProfile
	policy   retry.Policy
	log      *slog.Logger
	clock    func() time.Time
}

// NewStakeLedger wires a ledger. A nil logger falls back to the default.
func NewStakeLedger(locks store.FundLockStore, provider payment.Provider, profile config.EnforcementProfile, log *slog.Logger) *StakeLedger {
	if log == nil {
		log = slog.Default()
	}
	return &StakeLedger{
		locks:    locks,
		provider: provider,
		profile:  profile,
		policy: retry.Policy{
			MaxAttempts: profile.RetryMaxAttempts,
			BaseDelay:   time.Duration(profile.RetryBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(profile.RetryMaxMs) * time.Millisecond,
		},
		log:   log.With("component", "ledger"),
		clock: time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *StakeLedger) WithClock(clock func() time.Time) *StakeLedger {
	s.clock = clock
	return s
}

// ValidateStake checks the structural consistency of a stake
// declaration and returns the list of violations. It never errors; an
// empty slice means the stake is well-formed.
func (s *StakeLedger) ValidateStake(stakeType contracts.StakeType, amount *finance.Money, cause string) []string {
	var violations []string

	switch stakeType {
	case contracts.StakeSocial:
		if amount != nil && !amount.IsZero() {
			violations = append(violations, "social stakes carry no monetary amount")
		}
	case contracts.StakeAntiCharity:
		if amount == nil || amount.IsZero() {
			violations = append(violations, "amount is required for anti-charity stakes")
		} else {
			violations = append(violations, s.checkBounds(*amount)...)
		}
		if cause == "" {
			violations = append(violations, "anti-charity stakes require a cause")
		}
	case contracts.StakeLossPool:
		if amount == nil || amount.IsZero() {
			violations = append(violations, "amount is required for loss-pool stakes")
		} else {
			violations = append(violations, s.checkBounds(*amount)...)
		}
	default:
		violations = append(violations, fmt.Sprintf("unknown stake type %q", stakeType))
	}
	return violations
}

func (s *StakeLedger) checkBounds(amount finance.Money) []string {
	var violations []string
	if amount.IsNegative() {
		violations = append(violations, "amount must be positive")
	}
	if amount.AmountMinor < s.profile.MinStakeMinor {
		violations = append(violations, fmt.Sprintf("amount below minimum stake of %s",
			finance.NewMoney(s.profile.MinStakeMinor, amount.Currency)))
	}
	if amount.AmountMinor > s.profile.MaxStakeMinor {
		violations = append(violations, fmt.Sprintf("amount above maximum stake of %s",
			finance.NewMoney(s.profile.MaxStakeMinor, amount.Currency)))
	}
	return violations
}

// LockFunds places a hold on the user's funds for a LOSS_POOL contract.
//
// The existing LOCKED record is the idempotency anchor: a second call
// for the same contract returns the first lock unchanged, without
// touching the provider. Stake bounds are enforced before any external
// call. The LOCKED record is persisted only after the provider
// acknowledges the hold.
func (s *StakeLedger) LockFunds(ctx context.Context, userID, contractID string, amount finance.Money) (*contracts.FundLock, error) {
	if amount.AmountMinor < s.profile.MinStakeMinor {
		return nil, fmt.Errorf("%w: %s is below the %s minimum",
			contracts.ErrInsufficientStake, amount, finance.NewMoney(s.profile.MinStakeMinor, amount.Currency))
	}
	if amount.AmountMinor > s.profile.MaxStakeMinor {
		return nil, fmt.Errorf("%w: %s exceeds the %s maximum",
			contracts.ErrStakeExceedsMaximum, amount, finance.NewMoney(s.profile.MaxStakeMinor, amount.Currency))
	}

	existing, err := s.locks.GetLockedByContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("looking up fund lock for contract %s: %w", contractID, err)
	}
	if existing != nil {
		s.log.Debug("funds already locked", "contract_id", contractID, "lock_id", existing.ID)
		return existing, nil
	}

	verify, err := s.provider.VerifyPaymentMethod(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("verifying payment method for user %s: %w", userID, err)
	}
	if !verify.OK {
		return nil, fmt.Errorf("payment method rejected for user %s: %s", userID, verify.Reason)
	}

	var res payment.Result
	err = retry.Do(ctx, s.withKey("lock:"+contractID), func(ctx context.Context) error {
		var opErr error
		res, opErr = s.provider.LockFunds(ctx, userID, contractID, amount)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("locking funds for contract %s: %w", contractID, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("fund lock declined for contract %s: %s", contractID, res.Reason)
	}

	lock := &contracts.FundLock{
		ID:             uuid.New().String(),
		ContractID:     contractID,
		ExternalLockID: res.Reference,
		Amount:         amount,
		Status:         contracts.LockStatusLocked,
		CreatedAt:      s.clock(),
	}
	if err := s.locks.Create(ctx, lock); err != nil {
		return nil, fmt.Errorf("persisting fund lock for contract %s: %w", contractID, err)
	}
	s.log.Info("funds locked", "contract_id", contractID, "lock_id", lock.ID, "amount", amount.String())
	return lock, nil
}

// ReleaseFunds returns the held stake to its owner after a successful
// contract. An absent lock means there is nothing to release and is
// treated as success.
func (s *StakeLedger) ReleaseFunds(ctx context.Context, contractID string) error {
	return s.settle(ctx, contractID, contracts.LockStatusReleased, func(ctx context.Context, lock *contracts.FundLock) (payment.Result, error) {
		return s.provider.ReleaseFunds(ctx, lock.ExternalLockID)
	})
}

// ForfeitLossPool moves the held stake into the loss pool after a
// failed contract. An absent lock is a successful no-op.
func (s *StakeLedger) ForfeitLossPool(ctx context.Context, contractID string) error {
	return s.settle(ctx, contractID, contracts.LockStatusForfeited, func(ctx context.Context, lock *contracts.FundLock) (payment.Result, error) {
		return s.provider.ForfeitToPool(ctx, lock.ExternalLockID)
	})
}

// ProcessPartialRefund splits the held stake between a refund to the
// owner and a retained penalty, per the cancellation schedule. An
// absent lock is a successful no-op.
func (s *StakeLedger) ProcessPartialRefund(ctx context.Context, contractID string, refund, penalty finance.Money) error {
	return s.settle(ctx, contractID, contracts.LockStatusRefunded, func(ctx context.Context, lock *contracts.FundLock) (payment.Result, error) {
		return s.provider.ProcessPartialRefund(ctx, lock.ExternalLockID, refund, penalty)
	})
}

// settle looks up the LOCKED record, runs the external settlement with
// retry, and persists the terminal lock status only after the provider
// acknowledges.
func (s *StakeLedger) settle(ctx context.Context, contractID string, to contracts.FundLockStatus, op func(context.Context, *contracts.FundLock) (payment.Result, error)) error {
	lock, err := s.locks.GetLockedByContract(ctx, contractID)
	if err != nil {
		return fmt.Errorf("looking up fund lock for contract %s: %w", contractID, err)
	}
	if lock == nil {
		s.log.Debug("no locked funds to settle", "contract_id", contractID, "target", string(to))
		return nil
	}

	var res payment.Result
	err = retry.Do(ctx, s.withKey(string(to)+":"+contractID), func(ctx context.Context) error {
		var opErr error
		res, opErr = op(ctx, lock)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("settling lock %s to %s: %w", lock.ID, to, err)
	}
	if !res.OK {
		return fmt.Errorf("settlement of lock %s to %s declined: %s", lock.ID, to, res.Reason)
	}

	if _, err := s.locks.Settle(ctx, lock.ID, to, s.clock()); err != nil {
		return fmt.Errorf("persisting settlement of lock %s: %w", lock.ID, err)
	}
	s.log.Info("stake settled", "contract_id", contractID, "lock_id", lock.ID, "status", string(to))
	return nil
}

// ExecuteAntiCharityDonation sends the staked amount to the declared
// anti-charity. ANTI_CHARITY stakes carry no prior fund lock; the
// returned receipt is the settlement record.
func (s *StakeLedger) ExecuteAntiCharityDonation(ctx context.Context, userID, contractID string, amount finance.Money, cause, url string) (*contracts.DonationReceipt, error) {
	var res payment.Result
	err := retry.Do(ctx, s.withKey("donate:"+contractID), func(ctx context.Context) error {
		var opErr error
		res, opErr = s.provider.ProcessDonation(ctx, userID, contractID, amount, cause, url)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("donating stake for contract %s: %w", contractID, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("donation declined for contract %s: %s", contractID, res.Reason)
	}

	receipt := &contracts.DonationReceipt{
		ContractID: contractID,
		Reference:  res.Reference,
		Amount:     amount,
		Cause:      cause,
		ExecutedAt: s.clock(),
	}
	s.log.Info("anti-charity donation executed",
		"contract_id", contractID, "cause", cause, "amount", amount.String(), "reference", res.Reference)
	return receipt, nil
}

// GetSuccessProbability estimates the completion likelihood for a stake
// type. A deterministic lookup for informational display, not a model.
func (s *StakeLedger) GetSuccessProbability(stakeType contracts.StakeType) float64 {
	mult, ok := successMultipliers[stakeType]
	if !ok {
		mult = 1.0
	}
	p := successBaseRate * mult
	if p > 0.95 {
		p = 0.95
	}
	return p
}

func (s *StakeLedger) withKey(key string) retry.Policy {
	p := s.policy
	p.Key = key
	return p
}
