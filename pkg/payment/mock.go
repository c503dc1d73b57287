package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/stakebound/core/pkg/finance"
)

// MockProvider is a deterministic in-memory Provider for tests and local
// runs. It never fails on its own; tests opt into failures explicitly
// via FailNextWith or Decline. Randomized failure injection is a demo
// artifact and deliberately absent here.
type MockProvider struct {
	mu      sync.Mutex
	nextID  int
	holds   map[string]finance.Money // externalLockID -> held amount
	calls   map[string]int
	failOp  string
	failErr error
	failN   int
	decline string
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		holds: make(map[string]finance.Money),
		calls: make(map[string]int),
	}
}

// FailNextWith makes the next n calls of the named operation return
// err, simulating transport faults for retry tests.
func (m *MockProvider) FailNextWith(op string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOp = op
	m.failErr = err
	m.failN = n
}

// Decline makes subsequent operations return OK=false with the given
// reason until cleared with an empty string.
func (m *MockProvider) Decline(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decline = reason
}

// Calls reports how many times the named operation ran.
func (m *MockProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// HeldAmount returns the amount currently held under the external lock,
// or zero money when the hold is gone.
func (m *MockProvider) HeldAmount(externalLockID string) finance.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holds[externalLockID]
}

// takeFailure consumes one pending injected failure for op. Caller
// holds mu.
func (m *MockProvider) takeFailure(op string) error {
	if m.failN > 0 && m.failOp == op {
		m.failN--
		return m.failErr
	}
	return nil
}

// VerifyPaymentMethod implements Provider.
func (m *MockProvider) VerifyPaymentMethod(ctx context.Context, userID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["verify"]++
	if err := m.takeFailure("verify"); err != nil {
		return Result{}, err
	}
	if m.decline != "" {
		return Result{OK: false, Reason: m.decline}, nil
	}
	return Result{OK: true, Reference: "pm_" + userID}, nil
}

// LockFunds implements Provider.
func (m *MockProvider) LockFunds(ctx context.Context, userID, contractID string, amount finance.Money) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["lock"]++
	if err := m.takeFailure("lock"); err != nil {
		return Result{}, err
	}
	if m.decline != "" {
		return Result{OK: false, Reason: m.decline}, nil
	}

	m.nextID++
	ref := fmt.Sprintf("hold_%06d", m.nextID)
	m.holds[ref] = amount
	return Result{OK: true, Reference: ref}, nil
}

// ReleaseFunds implements Provider.
func (m *MockProvider) ReleaseFunds(ctx context.Context, externalLockID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["release"]++
	if err := m.takeFailure("release"); err != nil {
		return Result{}, err
	}
	if _, ok := m.holds[externalLockID]; !ok {
		return Result{OK: false, Reason: "unknown lock"}, nil
	}
	delete(m.holds, externalLockID)
	return Result{OK: true, Reference: externalLockID}, nil
}

// ForfeitToPool implements Provider.
func (m *MockProvider) ForfeitToPool(ctx context.Context, externalLockID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["forfeit"]++
	if err := m.takeFailure("forfeit"); err != nil {
		return Result{}, err
	}
	if _, ok := m.holds[externalLockID]; !ok {
		return Result{OK: false, Reason: "unknown lock"}, nil
	}
	delete(m.holds, externalLockID)
	return Result{OK: true, Reference: "pool_" + externalLockID}, nil
}

// ProcessDonation implements Provider.
func (m *MockProvider) ProcessDonation(ctx context.Context, userID, contractID string, amount finance.Money, cause, url string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["donate"]++
	if err := m.takeFailure("donate"); err != nil {
		return Result{}, err
	}
	if m.decline != "" {
		return Result{OK: false, Reason: m.decline}, nil
	}

	m.nextID++
	return Result{OK: true, Reference: fmt.Sprintf("don_%06d", m.nextID)}, nil
}

// ProcessPartialRefund implements Provider.
func (m *MockProvider) ProcessPartialRefund(ctx context.Context, externalLockID string, refund, penalty finance.Money) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["partial_refund"]++
	if err := m.takeFailure("partial_refund"); err != nil {
		return Result{}, err
	}
	if _, ok := m.holds[externalLockID]; !ok {
		return Result{OK: false, Reason: "unknown lock"}, nil
	}
	delete(m.holds, externalLockID)
	return Result{OK: true, Reference: "ref_" + externalLockID}, nil
}
