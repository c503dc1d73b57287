//go:build property
// +build property

package drift

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/stakebound/core/pkg/config"
	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/textgen"
)

// TestRiskMonotonicity verifies that for a fixed deadline, a larger
// progress shortfall never yields a lower risk level.
func TestRiskMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	detector := NewDetector(nil, nil, nil, textgen.StaticGenerator{}, nil, config.DefaultProfile(), nil)

	properties.Property("increasing gap never decreases risk", prop.ForAll(
		func(daysRemaining int, currentA, currentB int64) bool {
			const target = int64(100000)
			started := now.Add(-30 * 24 * time.Hour)
			c := &contracts.CommitmentContract{
				ID:       "c1",
				Deadline: now.Add(time.Duration(daysRemaining) * 24 * time.Hour),
			}

			// currentA <= currentB means A's gap >= B's gap
			if currentA > currentB {
				currentA, currentB = currentB, currentA
			}

			worse := detector.Analyze(c, &contracts.GoalProgress{
				TargetMinor: target, CurrentMinor: currentA, StartedAt: started,
			}, now)
			better := detector.Analyze(c, &contracts.GoalProgress{
				TargetMinor: target, CurrentMinor: currentB, StartedAt: started,
			}, now)

			return worse.Level.Rank() >= better.Level.Rank()
		},
		gen.IntRange(1, 60),
		gen.Int64Range(0, 100000),
		gen.Int64Range(0, 100000),
	))

	properties.TestingRun(t)
}
