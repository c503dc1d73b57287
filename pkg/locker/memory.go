package locker

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a single-process Locker for tests and local runs.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	clock  func() time.Time
}

// NewMemoryLocker creates an in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryLease),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *MemoryLocker) WithClock(clock func() time.Time) *MemoryLocker {
	l.clock = clock
	return l
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.leases[key]; ok && now.Before(lease.expiresAt) {
		return false, nil
	}
	l.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[key]; ok && lease.token == token {
		delete(l.leases, key)
	}
	return nil
}

// Renew implements Locker.
func (l *MemoryLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	lease, ok := l.leases[key]
	if !ok || lease.token != token || !now.Before(lease.expiresAt) {
		return false, nil
	}
	lease.expiresAt = now.Add(ttl)
	l.leases[key] = lease
	return true, nil
}
