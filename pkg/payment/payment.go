// Package payment defines the external payment collaborator port. Real
// provider integration lives outside this module; the engine only
// depends on this interface and the in-memory mock.
package payment

import (
	"context"

	"github.com/stakebound/core/pkg/finance"
)

// Result is the provider's answer to a settlement operation. OK=false
// with a Reason is a permanent refusal (card declined, unknown lock);
// transport problems surface as errors and go through the retry layer.
type Result struct {
	OK        bool   `json:"ok"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Provider is the external payment collaborator.
type Provider interface {
	// VerifyPaymentMethod checks that the user has a chargeable payment
	// method on file.
	VerifyPaymentMethod(ctx context.Context, userID string) (Result, error)

	// LockFunds places a hold on the user's payment method and returns
	// its external lock reference.
	LockFunds(ctx context.Context, userID, contractID string, amount finance.Money) (Result, error)

	// ReleaseFunds releases an existing hold.
	ReleaseFunds(ctx context.Context, externalLockID string) (Result, error)

	// ForfeitToPool captures an existing hold into the loss pool.
	ForfeitToPool(ctx context.Context, externalLockID string) (Result, error)

	// ProcessDonation charges the user and donates to the given cause.
	ProcessDonation(ctx context.Context, userID, contractID string, amount finance.Money, cause, url string) (Result, error)

	// ProcessPartialRefund splits an existing hold into a refunded part
	// and a captured penalty part.
	ProcessPartialRefund(ctx context.Context, externalLockID string, refund, penalty finance.Money) (Result, error)
}
