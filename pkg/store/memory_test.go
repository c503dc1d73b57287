package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/finance"
)

func activeContract(id, goalID string, deadline time.Time) *contracts.CommitmentContract {
	return &contracts.CommitmentContract{
		ID:                 id,
		UserID:             "user-1",
		GoalID:             goalID,
		StakeType:          contracts.StakeSocial,
		VerificationMethod: contracts.VerifySelfReport,
		Deadline:           deadline,
		CreatedAt:          deadline.Add(-30 * 24 * time.Hour),
		Status:             contracts.StatusActive,
	}
}

func TestMemoryContractStore_DuplicateActivePerGoal(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)

	require.NoError(t, s.Create(ctx, activeContract("c1", "goal-1", deadline)))

	err := s.Create(ctx, activeContract("c2", "goal-1", deadline))
	assert.ErrorIs(t, err, contracts.ErrDuplicateActiveContract)

	// A terminal contract on the goal does not block a new one.
	won, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusCancelled, time.Now())
	require.NoError(t, err)
	require.True(t, won)
	assert.NoError(t, s.Create(ctx, activeContract("c2", "goal-1", deadline)))
}

func TestMemoryContractStore_ConditionalTransitionSafety(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, activeContract("c1", "goal-1", now.Add(-time.Hour))))

	// Two concurrent ACTIVE -> PENDING_VERIFICATION attempts: exactly one
	// wins, the other sees an affected-row count of zero.
	first, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusPendingVerification, now)
	require.NoError(t, err)
	second, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusPendingVerification, now)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPendingVerification, c.Status)
}

func TestMemoryContractStore_TerminalStamps(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, activeContract("c1", "goal-1", now.Add(-time.Hour))))
	_, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusPendingVerification, now)
	require.NoError(t, err)

	won, err := s.UpdateStatus(ctx, "c1", contracts.StatusPendingVerification, contracts.StatusFailed, now)
	require.NoError(t, err)
	require.True(t, won)

	c, _ := s.Get(ctx, "c1")
	require.NotNil(t, c.FailedAt)
	assert.Equal(t, now, *c.FailedAt)
	assert.Nil(t, c.SucceededAt)
}

func TestMemoryContractStore_ReminderCooldown(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 6 * time.Hour

	require.NoError(t, s.Create(ctx, activeContract("c1", "goal-1", now.Add(12*time.Hour))))

	due, err := s.ListDueForReminder(ctx, now, 24*time.Hour, cooldown)
	require.NoError(t, err)
	require.Len(t, due, 1)

	won, err := s.MarkReminderSent(ctx, "c1", now, cooldown)
	require.NoError(t, err)
	assert.True(t, won)

	// Inside the cooldown the conditional mark fails and the selection
	// excludes the contract.
	won, err = s.MarkReminderSent(ctx, "c1", now.Add(time.Hour), cooldown)
	require.NoError(t, err)
	assert.False(t, won)

	due, err = s.ListDueForReminder(ctx, now.Add(time.Hour), 24*time.Hour, cooldown)
	require.NoError(t, err)
	assert.Empty(t, due)

	// After the cooldown it becomes eligible again.
	won, err = s.MarkReminderSent(ctx, "c1", now.Add(7*time.Hour), cooldown)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryContractStore_SelfVerifyWindow(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := activeContract("c1", "goal-1", now.Add(-48*time.Hour))
	c.VerificationMethod = contracts.VerifyReferee
	c.RefereeID = "ref-1"
	require.NoError(t, s.Create(ctx, c))
	_, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusPendingVerification, now)
	require.NoError(t, err)

	expires := now.Add(48 * time.Hour)
	won, err := s.OfferSelfVerify(ctx, "c1", now, expires)
	require.NoError(t, err)
	assert.True(t, won)

	// A second offer is rejected.
	won, err = s.OfferSelfVerify(ctx, "c1", now.Add(time.Hour), expires.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, won)

	// Self-verify inside the window succeeds once.
	won, err = s.RecordSelfVerify(ctx, "c1", now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, won)
	won, err = s.RecordSelfVerify(ctx, "c1", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, won)
}

func TestMemoryContractStore_SelfVerifyAfterExpiry(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := activeContract("c1", "goal-1", now.Add(-72*time.Hour))
	c.VerificationMethod = contracts.VerifyReferee
	require.NoError(t, s.Create(ctx, c))
	_, err := s.UpdateStatus(ctx, "c1", contracts.StatusActive, contracts.StatusPendingVerification, now)
	require.NoError(t, err)

	won, err := s.OfferSelfVerify(ctx, "c1", now, now.Add(48*time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	won, err = s.RecordSelfVerify(ctx, "c1", now.Add(49*time.Hour))
	require.NoError(t, err)
	assert.False(t, won, "self-verify past the window must be rejected")
}

func TestMemoryContractStore_CountByStatus(t *testing.T) {
	s := NewMemoryContractStore()
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)

	require.NoError(t, s.Create(ctx, activeContract("c1", "goal-1", deadline)))
	require.NoError(t, s.Create(ctx, activeContract("c2", "goal-2", deadline)))
	require.NoError(t, s.Create(ctx, activeContract("c3", "goal-3", deadline)))

	won, err := s.UpdateStatus(ctx, "c3", contracts.StatusActive, contracts.StatusCancelled, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	active, err := s.CountByStatus(ctx, contracts.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	cancelled, err := s.CountByStatus(ctx, contracts.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)
}

func TestMemoryFundLockStore_OneLockedPerContract(t *testing.T) {
	s := NewMemoryFundLockStore()
	ctx := context.Background()
	now := time.Now()

	lock := &contracts.FundLock{
		ID:             "lock-1",
		ContractID:     "c1",
		ExternalLockID: "ext-1",
		Amount:         finance.NewMoney(2500, "USD"),
		Status:         contracts.LockStatusLocked,
		CreatedAt:      now,
	}
	require.NoError(t, s.Create(ctx, lock))

	dup := *lock
	dup.ID = "lock-2"
	assert.Error(t, s.Create(ctx, &dup), "second LOCKED record for the contract must be rejected")

	got, err := s.GetLockedByContract(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lock-1", got.ID)

	won, err := s.Settle(ctx, "lock-1", contracts.LockStatusReleased, now)
	require.NoError(t, err)
	assert.True(t, won)

	// Settling twice is a no-op signalled by affected rows.
	won, err = s.Settle(ctx, "lock-1", contracts.LockStatusForfeited, now)
	require.NoError(t, err)
	assert.False(t, won)

	got, err = s.GetLockedByContract(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got, "released lock must no longer appear as LOCKED")
}

func TestMemoryMarkerStore_FollowUpTTL(t *testing.T) {
	s := NewMemoryMarkerStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 7 * 24 * time.Hour

	won, err := s.TryMarkFollowUp(ctx, "ref-1", now, ttl)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.TryMarkFollowUp(ctx, "ref-1", now.Add(24*time.Hour), ttl)
	require.NoError(t, err)
	assert.False(t, won, "live marker must block a second follow-up")

	won, err = s.TryMarkFollowUp(ctx, "ref-1", now.Add(8*24*time.Hour), ttl)
	require.NoError(t, err)
	assert.True(t, won, "expired marker must be refreshable")
}

func TestMemoryMarkerStore_GroupBonusOnce(t *testing.T) {
	s := NewMemoryMarkerStore()
	ctx := context.Background()
	now := time.Now()

	won, err := s.TryAwardGroupBonus(ctx, "group-1", now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.TryAwardGroupBonus(ctx, "group-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, won)
}
