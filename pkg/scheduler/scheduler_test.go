package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/drift"
	"github.com/stakebound/core/pkg/finance"
	"github.com/stakebound/core/pkg/groups"
	"github.com/stakebound/core/pkg/ledger"
	"github.com/stakebound/core/pkg/lifecycle"
	"github.com/stakebound/core/pkg/locker"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/payment"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

type world struct {
	scheduler *Scheduler
	engine    *lifecycle.Engine
	contracts *store.MemoryContractStore
	locks     *store.MemoryFundLockStore
	markers   *store.MemoryMarkerStore
	provider  *payment.MockProvider
	recorder  *notify.Recorder
	locker    *locker.MemoryLocker
	progress  *progressStub
	now       time.Time
}

type progressStub struct {
	byGoal map[string]*contracts.GoalProgress
}

func (s *progressStub) Progress(_ context.Context, goalID string) (*contracts.GoalProgress, error) {
	if p, ok := s.byGoal[goalID]; ok {
		return p, nil
	}
	return &contracts.GoalProgress{GoalID: goalID}, nil
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		contracts: store.NewMemoryContractStore(),
		locks:     store.NewMemoryFundLockStore(),
		markers:   store.NewMemoryMarkerStore(),
		provider:  payment.NewMockProvider(),
		recorder:  notify.NewRecorder(),
		locker:    locker.NewMemoryLocker(),
		progress:  &progressStub{byGoal: map[string]*contracts.GoalProgress{}},
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return w.now }

	profile := config.DefaultProfile()
	profile.RetryBaseMs = 1
	profile.RetryMaxMs = 2

	lg := ledger.NewStakeLedger(w.locks, w.provider, profile, nil).WithClock(clock)
	gen := textgen.StaticGenerator{}
	w.engine = lifecycle.NewEngine(w.contracts, lg, gen, w.recorder, profile, nil).WithClock(clock)
	detector := drift.NewDetector(w.contracts, w.markers, w.progress, gen, w.recorder, profile, nil).
		WithClock(clock)
	resolver := groups.NewResolver(w.contracts, w.markers, gen, w.recorder, nil).WithClock(clock)

	jobs := NewJobs(w.contracts, w.markers, w.engine, detector, resolver, gen, w.recorder, profile, nil)
	w.scheduler = NewScheduler(jobs, w.locker.WithClock(clock), 10*time.Minute, nil, nil).
		WithClock(clock)
	return w
}

func (w *world) create(t *testing.T, p lifecycle.CreateParams) *contracts.CommitmentContract {
	t.Helper()
	c, err := w.engine.Create(context.Background(), p)
	require.NoError(t, err)
	return c
}

func (w *world) lossPool(t *testing.T, goalID string, deadline time.Time) *contracts.CommitmentContract {
	t.Helper()
	amt := finance.NewMoney(2500, "USD")
	return w.create(t, lifecycle.CreateParams{
		UserID:             "user-1",
		GoalID:             goalID,
		StakeType:          contracts.StakeLossPool,
		StakeAmount:        &amt,
		VerificationMethod: contracts.VerifySelfReport,
		Deadline:           deadline,
	})
}

func (w *world) status(t *testing.T, id string) contracts.ContractStatus {
	t.Helper()
	c, err := w.contracts.Get(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func TestEnforcementMarksOverdueContracts(t *testing.T) {
	w := newWorld(t)
	c := w.lossPool(t, "g1", w.now.Add(time.Hour))
	w.now = w.now.Add(2 * time.Hour)

	result := w.scheduler.RunEnforcement(context.Background())
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Count("marked_overdue"))
	assert.Empty(t, result.Errors)
	assert.Equal(t, contracts.StatusPendingVerification, w.status(t, c.ID))
}

func TestEnforcementSkippedWhenLeaseHeld(t *testing.T) {
	w := newWorld(t)
	c := w.lossPool(t, "g1", w.now.Add(time.Hour))
	w.now = w.now.Add(2 * time.Hour)

	held, err := w.locker.Acquire(context.Background(), "jobs:"+JobEnforcement, "other-holder", time.Hour)
	require.NoError(t, err)
	require.True(t, held)

	result := w.scheduler.RunEnforcement(context.Background())
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Counts, "a skipped run is a full no-op")
	assert.Empty(t, result.Errors)
	assert.Equal(t, contracts.StatusActive, w.status(t, c.ID))
}

func TestEnforcementIsIdempotent(t *testing.T) {
	w := newWorld(t)
	c := w.lossPool(t, "g1", w.now.Add(time.Hour))
	// far past the hard cutoff: the pending contract fails immediately
	w.now = w.now.Add(200 * time.Hour)

	first := w.scheduler.RunEnforcement(context.Background())
	assert.Equal(t, 1, first.Count("marked_overdue"))

	second := w.scheduler.RunEnforcement(context.Background())
	assert.Zero(t, second.Count("marked_overdue"))

	assert.Equal(t, contracts.StatusFailed, w.status(t, c.ID))
	assert.Equal(t, 1, w.provider.Calls("forfeit"), "exactly one settlement")
}

func TestEnforcementReleasesLease(t *testing.T) {
	w := newWorld(t)

	w.scheduler.RunEnforcement(context.Background())
	// the lease must be free again for the next run
	acquired, err := w.locker.Acquire(context.Background(), "jobs:"+JobEnforcement, "next-holder", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRemindersSentOncePerCooldown(t *testing.T) {
	w := newWorld(t)
	c := w.lossPool(t, "g1", w.now.Add(20*time.Hour))

	result := w.scheduler.RunReminders(context.Background())
	assert.Equal(t, 1, result.Count("sent"))

	// immediately again: cooldown suppresses the duplicate
	result = w.scheduler.RunReminders(context.Background())
	assert.Zero(t, result.Count("sent"))

	// after the cooldown the next lead fires
	w.now = w.now.Add(19 * time.Hour)
	result = w.scheduler.RunReminders(context.Background())
	assert.Equal(t, 1, result.Count("sent"))

	var reminders int
	for _, msg := range w.recorder.Sent() {
		if msg.Kind == "deadline_reminder" && msg.ContractID == c.ID {
			reminders++
		}
	}
	assert.Equal(t, 2, reminders)
}

func TestRefereeFollowUpMarkedBeforeSend(t *testing.T) {
	w := newWorld(t)
	c := w.create(t, lifecycle.CreateParams{
		UserID:             "user-1",
		GoalID:             "g1",
		StakeType:          contracts.StakeSocial,
		VerificationMethod: contracts.VerifyReferee,
		RefereeID:          "ref-1",
		Deadline:           w.now.Add(time.Hour),
	})
	w.now = w.now.Add(2 * time.Hour)
	_, err := w.engine.MarkOverdue(context.Background(), c.ID)
	require.NoError(t, err)

	result := w.scheduler.RunRefereeFollowUp(context.Background())
	assert.Equal(t, 1, result.Count("followed_up"))

	// inside the 7-day TTL the referee is not pinged again
	w.now = w.now.Add(24 * time.Hour)
	result = w.scheduler.RunRefereeFollowUp(context.Background())
	assert.Zero(t, result.Count("followed_up"))

	w.now = w.now.Add(7 * 24 * time.Hour)
	result = w.scheduler.RunRefereeFollowUp(context.Background())
	assert.Equal(t, 1, result.Count("followed_up"))
}

func TestGroupJobs(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	a := w.create(t, lifecycle.CreateParams{
		UserID: "user-a", GoalID: "ga", GroupID: "grp",
		StakeType: contracts.StakeSocial, VerificationMethod: contracts.VerifySelfReport,
		Deadline: w.now.Add(time.Hour),
	})
	b := w.create(t, lifecycle.CreateParams{
		UserID: "user-b", GoalID: "gb", GroupID: "grp",
		StakeType: contracts.StakeSocial, VerificationMethod: contracts.VerifySelfReport,
		Deadline: w.now.Add(time.Hour),
	})

	nudge := w.scheduler.RunGroupNudge(ctx)
	assert.Equal(t, 2, nudge.Count("sent"))

	for _, id := range []string{a.ID, b.ID} {
		_, err := w.contracts.UpdateStatus(ctx, id, contracts.StatusActive, contracts.StatusSucceeded, w.now)
		require.NoError(t, err)
	}

	resolution := w.scheduler.RunGroupResolution(ctx)
	assert.Equal(t, 1, resolution.Count("resolved"))
	assert.Equal(t, 1, resolution.Count("bonuses_awarded"))

	// rerun: resolved again, bonus not repeated
	resolution = w.scheduler.RunGroupResolution(ctx)
	assert.Equal(t, 1, resolution.Count("resolved"))
	assert.Zero(t, resolution.Count("bonuses_awarded"))
}

func TestDriftScanCounts(t *testing.T) {
	w := newWorld(t)
	started := w.now.Add(-90 * 24 * time.Hour)

	w.lossPool(t, "g1", w.now.Add(24*time.Hour))
	w.progress.byGoal["g1"] = &contracts.GoalProgress{
		GoalID: "g1", TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started,
	}

	result := w.scheduler.RunDriftScan(context.Background())
	assert.Equal(t, 1, result.Count("analyzed"))
	assert.Equal(t, 1, result.Count("at_risk"))
	assert.Equal(t, 1, result.Count("nudged"))

	// second scan inside the fatigue window
	result = w.scheduler.RunDriftScan(context.Background())
	assert.Equal(t, 1, result.Count("suppressed"))
	assert.Zero(t, result.Count("nudged"))
}
