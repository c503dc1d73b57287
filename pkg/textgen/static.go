package textgen

import (
	"context"
	"fmt"

	"github.com/stakebound/core/pkg/contracts"
)

// StaticGenerator renders deterministic templates. It backs the
// fallback path and never returns an error.
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, req Request) (string, error) {
	switch req.Kind {
	case KindReminder:
		if req.HoursUntilDeadline <= 1 {
			return fmt.Sprintf("Final hour: your goal deadline is here. %s is on the line.", req.StakeSummary), nil
		}
		if req.HoursUntilDeadline <= 24 {
			return fmt.Sprintf("Less than a day left on your goal. %s is at stake.", req.StakeSummary), nil
		}
		return fmt.Sprintf("Your goal deadline is %d hours away. Keep going.", req.HoursUntilDeadline), nil

	case KindIntervention:
		switch req.Risk {
		case contracts.RiskHigh:
			return fmt.Sprintf("You're %.0f%% behind where you planned to be, with %d days left. Time to act: %s is at stake.",
				req.ProgressGap*100, req.DaysRemaining, req.StakeSummary), nil
		case contracts.RiskMedium:
			return fmt.Sprintf("Progress is slipping: you're %.0f%% behind plan. A push this week gets you back on track.",
				req.ProgressGap*100), nil
		default:
			return "You're slightly behind plan. A small effort now keeps your stake safe.", nil
		}

	case KindFollowUp:
		return "A contract you referee is awaiting your verdict. Please confirm whether the goal was met.", nil

	case KindDebrief:
		return "This one didn't land. Look at where the plan and the week diverged, then set the next contract with that in mind.", nil

	case KindGroupNudge:
		return "Your group has contracts still in flight. Check in on each other.", nil
	}
	return "", fmt.Errorf("textgen: unknown message kind %q", req.Kind)
}
