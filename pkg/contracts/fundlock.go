package contracts

import (
	"time"

	"github.com/stakebound/core/pkg/finance"
)

// FundLockStatus is the settlement state of a locked stake.
type FundLockStatus string

const (
	LockStatusLocked    FundLockStatus = "LOCKED"
	LockStatusReleased  FundLockStatus = "RELEASED"
	LockStatusForfeited FundLockStatus = "FORFEITED"
	LockStatusRefunded  FundLockStatus = "REFUNDED"
)

// FundLock records funds held against a LOSS_POOL contract.
//
// Invariant: at most one LOCKED record per contract at any time. The
// existence check on the LOCKED record is the idempotency anchor for
// lock operations.
type FundLock struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`

	// ExternalLockID is the payment provider's reference for the hold.
	ExternalLockID string `json:"external_lock_id"`

	Amount finance.Money  `json:"amount"`
	Status FundLockStatus `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// DonationReceipt is the provider's confirmation of an anti-charity
// donation. ANTI_CHARITY stakes have no prior fund lock, so the receipt
// is the only settlement artifact.
type DonationReceipt struct {
	ContractID string        `json:"contract_id"`
	Reference  string        `json:"reference"`
	Amount     finance.Money `json:"amount"`
	Cause      string        `json:"cause"`
	ExecutedAt time.Time     `json:"executed_at"`
}
