package groups

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

var resolverNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newResolver(t *testing.T) (*Resolver, *store.MemoryContractStore, *notify.Recorder) {
	t.Helper()
	cs := store.NewMemoryContractStore()
	recorder := notify.NewRecorder()
	r := NewResolver(cs, store.NewMemoryMarkerStore(), textgen.StaticGenerator{}, recorder, nil).
		WithClock(func() time.Time { return resolverNow })
	return r, cs, recorder
}

func member(t *testing.T, cs *store.MemoryContractStore, id, groupID string, status contracts.ContractStatus) {
	t.Helper()
	c := &contracts.CommitmentContract{
		ID:                 id,
		UserID:             "user-" + id,
		GoalID:             "goal-" + id,
		GroupID:            groupID,
		StakeType:          contracts.StakeSocial,
		VerificationMethod: contracts.VerifySelfReport,
		Deadline:           resolverNow.Add(24 * time.Hour),
		CreatedAt:          resolverNow.Add(-24 * time.Hour),
		Status:             contracts.StatusActive,
	}
	require.NoError(t, cs.Create(context.Background(), c))
	if status != contracts.StatusActive {
		_, err := cs.UpdateStatus(context.Background(), id, contracts.StatusActive, status, resolverNow)
		require.NoError(t, err)
	}
}

func TestResolveSkipsGroupsWithOpenContracts(t *testing.T) {
	r, cs, _ := newResolver(t)
	member(t, cs, "c1", "grp", contracts.StatusSucceeded)
	member(t, cs, "c2", "grp", contracts.StatusActive)

	outcomes, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestResolveAllSucceededAwardsBonusOnce(t *testing.T) {
	r, cs, recorder := newResolver(t)
	member(t, cs, "c1", "grp", contracts.StatusSucceeded)
	member(t, cs, "c2", "grp", contracts.StatusSucceeded)

	outcomes, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].AllSucceeded)
	assert.True(t, outcomes[0].BonusAwarded)
	assert.Equal(t, 2, outcomes[0].Succeeded)
	assert.Len(t, recorder.Sent(), 2, "every member is congratulated")

	// daily job reruns: the marker makes the bonus idempotent
	outcomes, err = r.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].BonusAwarded)
	assert.Len(t, recorder.Sent(), 2)
}

func TestResolveMixedOutcomeNoBonus(t *testing.T) {
	r, cs, recorder := newResolver(t)
	member(t, cs, "c1", "grp", contracts.StatusSucceeded)
	member(t, cs, "c2", "grp", contracts.StatusFailed)

	outcomes, err := r.ResolveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].AllSucceeded)
	assert.False(t, outcomes[0].BonusAwarded)
	assert.Equal(t, 1, outcomes[0].Succeeded)
	assert.Empty(t, recorder.Sent())
}

func TestNudgeTargetsOpenContractsOnly(t *testing.T) {
	r, cs, recorder := newResolver(t)
	member(t, cs, "c1", "grp", contracts.StatusActive)
	member(t, cs, "c2", "grp", contracts.StatusSucceeded)
	member(t, cs, "c3", "done", contracts.StatusSucceeded)

	sent, err := r.Nudge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, recorder.Sent(), 1)
	assert.Equal(t, "user-c1", recorder.Sent()[0].UserID)
	assert.Equal(t, "group_nudge", recorder.Sent()[0].Kind)
}
