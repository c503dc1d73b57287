// Package textgen produces user-facing message text: drift
// interventions, deadline reminders, referee follow-ups, and
// post-failure debriefs. The HTTP generator talks to an external
// text-generation service; the static generator is the deterministic
// fallback when that service is down.
package textgen

import (
	"context"

	"github.com/stakebound/core/pkg/contracts"
)

// Kind names the message being generated.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindIntervention Kind = "intervention"
	KindFollowUp     Kind = "follow_up"
	KindDebrief      Kind = "debrief"
	KindGroupNudge   Kind = "group_nudge"
)

// Request is the structured context for one message.
type Request struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"user_id"`
	GoalID string `json:"goal_id"`

	// Drift context, set for interventions.
	Risk          contracts.RiskLevel `json:"risk,omitempty"`
	ProgressGap   float64             `json:"progress_gap,omitempty"`
	DaysRemaining int                 `json:"days_remaining,omitempty"`

	// StakeSummary is a rendered description of what is on the line,
	// e.g. "USD 25.00 to the loss pool".
	StakeSummary string `json:"stake_summary,omitempty"`

	// HoursUntilDeadline is set for reminders; negative when overdue.
	HoursUntilDeadline int `json:"hours_until_deadline,omitempty"`
}

// Generator turns a structured request into message text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// FallbackGenerator tries the primary generator and falls back to the
// secondary on any error. The fallback's own error, if any, is
// returned unwrapped; with a StaticGenerator secondary that never
// happens.
type FallbackGenerator struct {
	Primary   Generator
	Secondary Generator
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (string, error) {
	text, err := g.Primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	return g.Secondary.Generate(ctx, req)
}
