package contracts

import "time"

// RiskLevel classifies how far behind expected progress a contract is.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels for monotonicity comparisons; higher is worse.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// DriftReport is the outcome of analyzing one contract for slip.
type DriftReport struct {
	ContractID       string    `json:"contract_id"`
	Level            RiskLevel `json:"level"`
	ElapsedRatio     float64   `json:"elapsed_ratio"`
	ExpectedProgress float64   `json:"expected_progress"`
	ProgressGap      float64   `json:"progress_gap"`
	DaysRemaining    int       `json:"days_remaining"`

	// Suppressed is set when a qualifying risk was found but a recent
	// intervention is still inside the fatigue window.
	Suppressed bool   `json:"suppressed,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// InterventionRequest is the structured context handed to the
// text-generation collaborator when producing a nudge.
type InterventionRequest struct {
	UserID      string    `json:"user_id"`
	GoalID      string    `json:"goal_id"`
	ContractID  string    `json:"contract_id"`
	Level       RiskLevel `json:"level"`
	ProgressGap float64   `json:"progress_gap"`
	StakeType   StakeType `json:"stake_type"`
	DaysLeft    int       `json:"days_left"`
}
