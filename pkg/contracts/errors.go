package contracts

import "errors"

// Named domain errors. Conflict errors are surfaced to callers and never
// retried; they are distinct from transient infrastructure errors, which
// the retry layer classifies separately.
var (
	// ErrDuplicateActiveContract is returned when a goal already has a
	// contract in ACTIVE or PENDING_VERIFICATION.
	ErrDuplicateActiveContract = errors.New("goal already has an active contract")

	// ErrInvalidTransition is returned when a conditional status update
	// finds the contract no longer in the expected source state.
	ErrInvalidTransition = errors.New("invalid contract transition")

	// ErrContractNotFound is returned for lookups of unknown contract IDs.
	ErrContractNotFound = errors.New("contract not found")

	// ErrInsufficientStake is returned when a monetary stake is below the
	// configured minimum.
	ErrInsufficientStake = errors.New("stake amount below minimum")

	// ErrStakeExceedsMaximum is returned when a monetary stake is above
	// the configured maximum.
	ErrStakeExceedsMaximum = errors.New("stake amount above maximum")

	// ErrSelfVerifyWindowClosed is returned when an owner attempts to
	// self-verify outside the offered window.
	ErrSelfVerifyWindowClosed = errors.New("self-verify window closed")

	// ErrNotCancellable is returned when cancellation is attempted after
	// the deadline or from a non-ACTIVE state.
	ErrNotCancellable = errors.New("contract is not cancellable")

	// ErrNotReferee is returned when a verification decision comes from
	// someone other than the contract's referee.
	ErrNotReferee = errors.New("caller is not the contract referee")

	// ErrNotOwner is returned when an owner-only action comes from
	// someone other than the contract's owner.
	ErrNotOwner = errors.New("caller is not the contract owner")
)
