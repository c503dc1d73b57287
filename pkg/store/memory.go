package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stakebound/core/pkg/contracts"
)

// MemoryContractStore is a thread-safe in-memory ContractStore for tests
// and local runs. Its conditional updates mirror the SQL semantics
// exactly, including affected-row signalling.
type MemoryContractStore struct {
	mu        sync.RWMutex
	contracts map[string]*contracts.CommitmentContract
}

// NewMemoryContractStore creates an empty in-memory contract store.
func NewMemoryContractStore() *MemoryContractStore {
	return &MemoryContractStore{contracts: make(map[string]*contracts.CommitmentContract)}
}

// Create implements ContractStore.
func (s *MemoryContractStore) Create(ctx context.Context, c *contracts.CommitmentContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.contracts {
		if existing.GoalID == c.GoalID && !existing.Status.IsTerminal() {
			return contracts.ErrDuplicateActiveContract
		}
	}
	clone := *c
	s.contracts[c.ID] = &clone
	return nil
}

// Get implements ContractStore.
func (s *MemoryContractStore) Get(ctx context.Context, id string) (*contracts.CommitmentContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, contracts.ErrContractNotFound
	}
	clone := *c
	return &clone, nil
}

// UpdateStatus implements ContractStore.
func (s *MemoryContractStore) UpdateStatus(ctx context.Context, id string, from, to contracts.ContractStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	stamp := at
	switch to {
	case contracts.StatusFailed:
		c.FailedAt = &stamp
	case contracts.StatusSucceeded:
		c.SucceededAt = &stamp
	}
	return true, nil
}

// ListOverdueActive implements ContractStore.
func (s *MemoryContractStore) ListOverdueActive(ctx context.Context, now time.Time) ([]*contracts.CommitmentContract, error) {
	return s.filter(func(c *contracts.CommitmentContract) bool {
		return c.Status == contracts.StatusActive && c.Deadline.Before(now)
	}), nil
}

// ListPendingVerification implements ContractStore.
func (s *MemoryContractStore) ListPendingVerification(ctx context.Context) ([]*contracts.CommitmentContract, error) {
	return s.filter(func(c *contracts.CommitmentContract) bool {
		return c.Status == contracts.StatusPendingVerification
	}), nil
}

// ListActive implements ContractStore.
func (s *MemoryContractStore) ListActive(ctx context.Context) ([]*contracts.CommitmentContract, error) {
	return s.filter(func(c *contracts.CommitmentContract) bool {
		return c.Status == contracts.StatusActive
	}), nil
}

// ListDueForReminder implements ContractStore.
func (s *MemoryContractStore) ListDueForReminder(ctx context.Context, now time.Time, lead, cooldown time.Duration) ([]*contracts.CommitmentContract, error) {
	cutoff := now.Add(-cooldown)
	return s.filter(func(c *contracts.CommitmentContract) bool {
		if c.Status != contracts.StatusActive {
			return false
		}
		if !c.Deadline.After(now) || c.Deadline.After(now.Add(lead)) {
			return false
		}
		return c.LastReminderSentAt == nil || c.LastReminderSentAt.Before(cutoff)
	}), nil
}

// MarkReminderSent implements ContractStore.
func (s *MemoryContractStore) MarkReminderSent(ctx context.Context, id string, at time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok || c.Status != contracts.StatusActive {
		return false, nil
	}
	if c.LastReminderSentAt != nil && !c.LastReminderSentAt.Before(at.Add(-cooldown)) {
		return false, nil
	}
	stamp := at
	c.LastReminderSentAt = &stamp
	return true, nil
}

// OfferSelfVerify implements ContractStore.
func (s *MemoryContractStore) OfferSelfVerify(ctx context.Context, id string, offeredAt, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok || c.Status != contracts.StatusPendingVerification || c.SelfVerifyOfferedAt != nil {
		return false, nil
	}
	o, e := offeredAt, expiresAt
	c.SelfVerifyOfferedAt = &o
	c.SelfVerifyExpiresAt = &e
	return true, nil
}

// RecordSelfVerify implements ContractStore.
func (s *MemoryContractStore) RecordSelfVerify(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok || c.Status != contracts.StatusPendingVerification {
		return false, nil
	}
	if c.SelfVerifyOfferedAt == nil || c.SelfVerifiedAt != nil {
		return false, nil
	}
	if c.SelfVerifyExpiresAt == nil || !c.SelfVerifyExpiresAt.After(at) {
		return false, nil
	}
	stamp := at
	c.SelfVerifiedAt = &stamp
	return true, nil
}

// StampSlipDetected implements ContractStore.
func (s *MemoryContractStore) StampSlipDetected(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contracts[id]; ok {
		stamp := at
		c.LastSlipDetectedAt = &stamp
	}
	return nil
}

// CountByStatus implements ContractStore.
func (s *MemoryContractStore) CountByStatus(ctx context.Context, status contracts.ContractStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.contracts {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

// ListGroupIDs implements ContractStore.
func (s *MemoryContractStore) ListGroupIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, c := range s.contracts {
		if c.GroupID != "" {
			seen[c.GroupID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListByGroup implements ContractStore.
func (s *MemoryContractStore) ListByGroup(ctx context.Context, groupID string) ([]*contracts.CommitmentContract, error) {
	return s.filter(func(c *contracts.CommitmentContract) bool {
		return c.GroupID == groupID
	}), nil
}

func (s *MemoryContractStore) filter(keep func(*contracts.CommitmentContract) bool) []*contracts.CommitmentContract {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*contracts.CommitmentContract
	for _, c := range s.contracts {
		if keep(c) {
			clone := *c
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Deadline.Equal(result[j].Deadline) {
			return result[i].Deadline.Before(result[j].Deadline)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// MemoryFundLockStore is a thread-safe in-memory FundLockStore.
type MemoryFundLockStore struct {
	mu    sync.Mutex
	locks map[string]*contracts.FundLock // keyed by lock ID
}

// NewMemoryFundLockStore creates an empty in-memory fund lock store.
func NewMemoryFundLockStore() *MemoryFundLockStore {
	return &MemoryFundLockStore{locks: make(map[string]*contracts.FundLock)}
}

// Create implements FundLockStore.
func (s *MemoryFundLockStore) Create(ctx context.Context, l *contracts.FundLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.locks {
		if existing.ContractID == l.ContractID && existing.Status == contracts.LockStatusLocked {
			return fmt.Errorf("contract %s already has a locked stake", l.ContractID)
		}
	}
	clone := *l
	s.locks[l.ID] = &clone
	return nil
}

// GetLockedByContract implements FundLockStore.
func (s *MemoryFundLockStore) GetLockedByContract(ctx context.Context, contractID string) (*contracts.FundLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.locks {
		if l.ContractID == contractID && l.Status == contracts.LockStatusLocked {
			clone := *l
			return &clone, nil
		}
	}
	return nil, nil
}

// Settle implements FundLockStore.
func (s *MemoryFundLockStore) Settle(ctx context.Context, lockID string, to contracts.FundLockStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[lockID]
	if !ok || l.Status != contracts.LockStatusLocked {
		return false, nil
	}
	l.Status = to
	stamp := at
	l.SettledAt = &stamp
	return true, nil
}

// MemoryMarkerStore is a thread-safe in-memory MarkerStore.
type MemoryMarkerStore struct {
	mu        sync.Mutex
	followUps map[string]time.Time
	bonuses   map[string]time.Time
	nudges    map[string]time.Time
}

// NewMemoryMarkerStore creates an empty in-memory marker store.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{
		followUps: make(map[string]time.Time),
		bonuses:   make(map[string]time.Time),
		nudges:    make(map[string]time.Time),
	}
}

// TryMarkFollowUp implements MarkerStore.
func (s *MemoryMarkerStore) TryMarkFollowUp(ctx context.Context, refereeID string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if marked, ok := s.followUps[refereeID]; ok && marked.After(now.Add(-ttl)) {
		return false, nil
	}
	s.followUps[refereeID] = now
	return true, nil
}

// TryAwardGroupBonus implements MarkerStore.
func (s *MemoryMarkerStore) TryAwardGroupBonus(ctx context.Context, groupID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bonuses[groupID]; ok {
		return false, nil
	}
	s.bonuses[groupID] = now
	return true, nil
}

// LastNudgeAt implements MarkerStore.
func (s *MemoryMarkerStore) LastNudgeAt(ctx context.Context, contractID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.nudges[contractID]; ok {
		clone := at
		return &clone, nil
	}
	return nil, nil
}

// StampNudge implements MarkerStore.
func (s *MemoryMarkerStore) StampNudge(ctx context.Context, contractID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nudges[contractID] = at
	return nil
}
