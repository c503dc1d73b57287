// Package store provides the persistence repositories of the enforcement
// engine: commitment contracts, fund locks, and dedupe/bonus markers.
//
// Every mutating contract operation is a conditional update guarded by
// the currently-persisted status; the affected-row count tells the caller
// whether it won the race. That compare-and-swap is the sole
// correctness-bearing mutual-exclusion point in the system.
//
// Implementations: SQL (sqlite via modernc.org/sqlite, postgres via
// lib/pq) and in-memory doubles for tests.
package store

import (
	"context"
	"time"

	"github.com/stakebound/core/pkg/contracts"
)

// ContractStore persists commitment contracts.
type ContractStore interface {
	// Create inserts a new ACTIVE contract. It returns
	// contracts.ErrDuplicateActiveContract when the goal already has a
	// contract in ACTIVE or PENDING_VERIFICATION.
	Create(ctx context.Context, c *contracts.CommitmentContract) error

	// Get returns the contract or contracts.ErrContractNotFound.
	Get(ctx context.Context, id string) (*contracts.CommitmentContract, error)

	// UpdateStatus performs "set status=to where id=? and status=from".
	// It returns true when this caller won the transition; false means a
	// concurrent actor already moved the contract. Terminal targets also
	// stamp failed_at/succeeded_at.
	UpdateStatus(ctx context.Context, id string, from, to contracts.ContractStatus, at time.Time) (bool, error)

	// ListOverdueActive returns ACTIVE contracts whose deadline has
	// passed.
	ListOverdueActive(ctx context.Context, now time.Time) ([]*contracts.CommitmentContract, error)

	// ListPendingVerification returns all PENDING_VERIFICATION contracts.
	ListPendingVerification(ctx context.Context) ([]*contracts.CommitmentContract, error)

	// ListActive returns all ACTIVE contracts.
	ListActive(ctx context.Context) ([]*contracts.CommitmentContract, error)

	// ListDueForReminder returns ACTIVE contracts whose deadline falls
	// within lead from now and whose last reminder is older than the
	// cooldown (or never sent).
	ListDueForReminder(ctx context.Context, now time.Time, lead, cooldown time.Duration) ([]*contracts.CommitmentContract, error)

	// MarkReminderSent conditionally stamps last_reminder_sent_at; it
	// succeeds only while the contract is still ACTIVE and the cooldown
	// has elapsed. Written before dispatch, so a send can be lost but
	// never duplicated.
	MarkReminderSent(ctx context.Context, id string, at time.Time, cooldown time.Duration) (bool, error)

	// OfferSelfVerify stamps the self-verify window; it succeeds only
	// while PENDING_VERIFICATION and no offer exists yet.
	OfferSelfVerify(ctx context.Context, id string, offeredAt, expiresAt time.Time) (bool, error)

	// RecordSelfVerify stamps self_verified_at; it succeeds only while
	// PENDING_VERIFICATION with an open window.
	RecordSelfVerify(ctx context.Context, id string, at time.Time) (bool, error)

	// StampSlipDetected best-effort updates last_slip_detected_at.
	StampSlipDetected(ctx context.Context, id string, at time.Time) error

	// CountByStatus returns the number of contracts in the status.
	CountByStatus(ctx context.Context, status contracts.ContractStatus) (int64, error)

	// ListGroupIDs returns the distinct non-empty group IDs.
	ListGroupIDs(ctx context.Context) ([]string, error)

	// ListByGroup returns every contract in the group.
	ListByGroup(ctx context.Context, groupID string) ([]*contracts.CommitmentContract, error)
}

// FundLockStore persists fund locks for LOSS_POOL stakes.
type FundLockStore interface {
	// Create inserts a LOCKED record. The partial unique index on
	// (contract_id) WHERE status='LOCKED' backs the one-LOCKED-per-
	// contract invariant.
	Create(ctx context.Context, l *contracts.FundLock) error

	// GetLockedByContract returns the LOCKED record for the contract, or
	// (nil, nil) when none exists.
	GetLockedByContract(ctx context.Context, contractID string) (*contracts.FundLock, error)

	// Settle conditionally moves a LOCKED record to a terminal status.
	Settle(ctx context.Context, lockID string, to contracts.FundLockStatus, at time.Time) (bool, error)
}

// MarkerStore persists the small dedupe and award markers: time-boxed
// referee follow-ups, one-time group bonuses, and per-contract nudge
// stamps (the fatigue window's source of truth).
type MarkerStore interface {
	// TryMarkFollowUp writes the per-referee follow-up marker unless a
	// marker younger than ttl exists. Marker first, send after:
	// at-most-once.
	TryMarkFollowUp(ctx context.Context, refereeID string, now time.Time, ttl time.Duration) (bool, error)

	// TryAwardGroupBonus writes the one-time bonus marker; false means
	// the bonus was already awarded.
	TryAwardGroupBonus(ctx context.Context, groupID string, now time.Time) (bool, error)

	// LastNudgeAt returns the last intervention time for the contract,
	// or nil when none was ever produced.
	LastNudgeAt(ctx context.Context, contractID string) (*time.Time, error)

	// StampNudge records an intervention for the fatigue window.
	StampNudge(ctx context.Context, contractID string, at time.Time) error
}
