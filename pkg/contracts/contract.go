// Package contracts defines the shared domain types of the commitment
// enforcement engine: commitment contracts, fund locks, risk reports, and
// the named domain errors surfaced to callers.
//
// Types here are plain data; all behavior lives in the lifecycle, ledger,
// scheduler, and drift packages.
package contracts

import (
	"time"

	"github.com/stakebound/core/pkg/finance"
)

// StakeType is the consequence mechanism backing a contract.
type StakeType string

const (
	StakeSocial      StakeType = "SOCIAL"
	StakeAntiCharity StakeType = "ANTI_CHARITY"
	StakeLossPool    StakeType = "LOSS_POOL"
)

// VerificationMethod determines who confirms a contract's outcome.
type VerificationMethod string

const (
	VerifySelfReport VerificationMethod = "SELF_REPORT"
	VerifyReferee    VerificationMethod = "REFEREE_VERIFY"
	VerifyAutoDetect VerificationMethod = "AUTO_DETECT"
)

// ContractStatus is the lifecycle state of a commitment contract.
// Transitions are monotonic; no path returns to ACTIVE.
type ContractStatus string

const (
	StatusActive              ContractStatus = "ACTIVE"
	StatusPendingVerification ContractStatus = "PENDING_VERIFICATION"
	StatusSucceeded           ContractStatus = "SUCCEEDED"
	StatusFailed              ContractStatus = "FAILED"
	StatusCancelled           ContractStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CommitmentContract is a user's financial accountability pledge tied to
// a goal, carrying a stake type and a deadline.
//
// Invariant: at most one contract in {ACTIVE, PENDING_VERIFICATION} per
// goal. Contracts are never deleted, only transitioned to a terminal state.
type CommitmentContract struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	GoalID string `json:"goal_id"`

	// GroupID links the contract to a group challenge; empty for solo
	// contracts.
	GroupID string `json:"group_id,omitempty"`

	StakeType StakeType `json:"stake_type"`

	// StakeAmount is required for ANTI_CHARITY and LOSS_POOL stakes and
	// must be nil for SOCIAL stakes.
	StakeAmount *finance.Money `json:"stake_amount,omitempty"`

	// AntiCharityCause names the cause the user would hate to fund.
	AntiCharityCause string `json:"anti_charity_cause,omitempty"`
	AntiCharityURL   string `json:"anti_charity_url,omitempty"`

	VerificationMethod VerificationMethod `json:"verification_method"`

	// RefereeID is set only for REFEREE_VERIFY contracts.
	RefereeID string `json:"referee_id,omitempty"`

	Deadline  time.Time      `json:"deadline"`
	CreatedAt time.Time      `json:"created_at"`
	Status    ContractStatus `json:"status"`

	// Self-verify fallback window, offered when a referee is unresponsive
	// past the grace period.
	SelfVerifyOfferedAt *time.Time `json:"self_verify_offered_at,omitempty"`
	SelfVerifyExpiresAt *time.Time `json:"self_verify_expires_at,omitempty"`
	SelfVerifiedAt      *time.Time `json:"self_verified_at,omitempty"`

	LastReminderSentAt *time.Time `json:"last_reminder_sent_at,omitempty"`
	LastSlipDetectedAt *time.Time `json:"last_slip_detected_at,omitempty"`

	FailedAt    *time.Time `json:"failed_at,omitempty"`
	SucceededAt *time.Time `json:"succeeded_at,omitempty"`
}

// HoursOverdue returns how many hours have elapsed past the deadline at
// the given instant, or 0 if the deadline has not passed.
func (c *CommitmentContract) HoursOverdue(now time.Time) float64 {
	if !now.After(c.Deadline) {
		return 0
	}
	return now.Sub(c.Deadline).Hours()
}

// GoalProgress is a point-in-time snapshot of progress toward a contract's
// goal, supplied by the goal collaborator.
type GoalProgress struct {
	GoalID       string    `json:"goal_id"`
	TargetMinor  int64     `json:"target_minor"`
	CurrentMinor int64     `json:"current_minor"`
	StartedAt    time.Time `json:"started_at"`
}

// AchievementTier grades a successful contract by its final progress.
type AchievementTier string

const (
	TierBronze   AchievementTier = "BRONZE"
	TierSilver   AchievementTier = "SILVER"
	TierGold     AchievementTier = "GOLD"
	TierPlatinum AchievementTier = "PLATINUM"
)
