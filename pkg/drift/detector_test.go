package drift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

type stubProgress struct {
	byGoal map[string]*contracts.GoalProgress
	errs   map[string]error
}

func (s *stubProgress) Progress(_ context.Context, goalID string) (*contracts.GoalProgress, error) {
	if err := s.errs[goalID]; err != nil {
		return nil, err
	}
	if p, ok := s.byGoal[goalID]; ok {
		return p, nil
	}
	return nil, errors.New("unknown goal")
}

type fixture struct {
	detector  *Detector
	contracts *store.MemoryContractStore
	markers   *store.MemoryMarkerStore
	progress  *stubProgress
	recorder  *notify.Recorder
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		contracts: store.NewMemoryContractStore(),
		markers:   store.NewMemoryMarkerStore(),
		progress: &stubProgress{
			byGoal: map[string]*contracts.GoalProgress{},
			errs:   map[string]error{},
		},
		recorder: notify.NewRecorder(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.detector = NewDetector(f.contracts, f.markers, f.progress, textgen.StaticGenerator{},
		f.recorder, config.DefaultProfile(), nil).
		WithClock(func() time.Time { return f.now })
	return f
}

// seed creates an ACTIVE contract with the given deadline and a goal
// progress snapshot.
func (f *fixture) seed(t *testing.T, id, goalID string, deadline time.Time, p *contracts.GoalProgress) {
	t.Helper()
	c := &contracts.CommitmentContract{
		ID:                 id,
		UserID:             "user-" + id,
		GoalID:             goalID,
		StakeType:          contracts.StakeSocial,
		VerificationMethod: contracts.VerifySelfReport,
		Deadline:           deadline,
		CreatedAt:          f.now.Add(-24 * time.Hour),
		Status:             contracts.StatusActive,
	}
	require.NoError(t, f.contracts.Create(context.Background(), c))
	if p != nil {
		p.GoalID = goalID
		f.progress.byGoal[goalID] = p
	}
}

func TestAnalyzeFullyElapsedLargeGap(t *testing.T) {
	f := newFixture(t)
	started := f.now.Add(-90 * 24 * time.Hour)
	c := &contracts.CommitmentContract{ID: "c1", Deadline: f.now}
	p := &contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started}

	report := f.detector.Analyze(c, p, f.now)
	assert.InDelta(t, 1.0, report.ElapsedRatio, 1e-9)
	assert.InDelta(t, 100000, report.ExpectedProgress, 1e-9)
	assert.InDelta(t, 0.8, report.ProgressGap, 1e-9)
	assert.Equal(t, contracts.RiskHigh, report.Level)
}

func TestAnalyzeLadder(t *testing.T) {
	f := newFixture(t)
	started := f.now.Add(-45 * 24 * time.Hour)
	deadline := f.now.Add(45 * 24 * time.Hour) // halfway, expected = 50%
	c := &contracts.CommitmentContract{ID: "c1", Deadline: deadline}

	cases := []struct {
		name    string
		current int64
		want    contracts.RiskLevel
	}{
		{"on track", 50000, contracts.RiskNone},
		{"slightly behind", 45000, contracts.RiskLow},    // gap 0.05
		{"behind", 30000, contracts.RiskMedium},          // gap 0.20
		{"badly behind", 10000, contracts.RiskHigh},      // gap 0.40
		{"barely over low", 46900, contracts.RiskLow},    // gap 0.031
		{"ahead of plan", 80000, contracts.RiskNone},     // negative gap clamps
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: tc.current, StartedAt: started}
			assert.Equal(t, tc.want, f.detector.Analyze(c, p, f.now).Level)
		})
	}
}

func TestAnalyzeUrgentDeadlineEscalates(t *testing.T) {
	f := newFixture(t)
	started := f.now.Add(-84 * 24 * time.Hour)
	deadline := f.now.Add(6 * 24 * time.Hour) // inside urgent window
	c := &contracts.CommitmentContract{ID: "c1", Deadline: deadline}

	// gap ~0.067: medium territory by thresholds, high because urgent
	p := &contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 86600, StartedAt: started}
	report := f.detector.Analyze(c, p, f.now)
	assert.Equal(t, contracts.RiskHigh, report.Level)
}

func TestScanDeliversNudgeAndStamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.now.Add(-90 * 24 * time.Hour)
	f.seed(t, "c1", "g1", f.now.Add(24*time.Hour),
		&contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started})

	reports, err := f.detector.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, contracts.RiskHigh, reports[0].Level)
	assert.False(t, reports[0].Suppressed)

	require.Len(t, f.recorder.Sent(), 1)
	assert.Equal(t, "drift_nudge", f.recorder.Sent()[0].Kind)

	last, err := f.markers.LastNudgeAt(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, f.now, *last)

	got, err := f.contracts.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSlipDetectedAt)
}

func TestScanFatigueSuppression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.now.Add(-90 * 24 * time.Hour)
	f.seed(t, "c1", "g1", f.now.Add(24*time.Hour),
		&contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started})

	_, err := f.detector.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, f.recorder.Sent(), 1)

	// second scan inside the fatigue window: reported but suppressed
	f.now = f.now.Add(12 * time.Hour)
	reports, err := f.detector.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, contracts.RiskHigh, reports[0].Level)
	assert.True(t, reports[0].Suppressed)
	assert.Len(t, f.recorder.Sent(), 1, "at most one delivered nudge inside the window")

	// past the window the nudge flows again
	f.now = f.now.Add(40 * time.Hour)
	reports, err = f.detector.Scan(ctx)
	require.NoError(t, err)
	assert.False(t, reports[0].Suppressed)
	assert.Len(t, f.recorder.Sent(), 2)
}

func TestScanIsolatesPerContractFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.now.Add(-90 * 24 * time.Hour)
	f.seed(t, "c1", "g-broken", f.now.Add(24*time.Hour), nil)
	f.progress.errs["g-broken"] = errors.New("goal service down")
	f.seed(t, "c2", "g2", f.now.Add(24*time.Hour),
		&contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started})

	reports, err := f.detector.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byID := map[string]contracts.DriftReport{}
	for _, r := range reports {
		byID[r.ContractID] = r
	}
	assert.Equal(t, contracts.RiskNone, byID["c1"].Level)
	assert.Contains(t, byID["c1"].SkipReason, "progress lookup failed")
	assert.Equal(t, contracts.RiskHigh, byID["c2"].Level, "healthy contract still analyzed")
	assert.Len(t, f.recorder.Sent(), 1)
}

func TestScanMarkerWrittenBeforeDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.now.Add(-90 * 24 * time.Hour)
	f.seed(t, "c1", "g1", f.now.Add(24*time.Hour),
		&contracts.GoalProgress{TargetMinor: 100000, CurrentMinor: 20000, StartedAt: started})

	f.recorder.FailWith(errors.New("channel down"))
	reports, err := f.detector.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].SkipReason, "intervention failed")

	// at-most-once: the stamp stands even though delivery failed
	last, err := f.markers.LastNudgeAt(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, last)
}
