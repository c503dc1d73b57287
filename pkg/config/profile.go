package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnforcementProfile carries the tunable enforcement, stake, and drift
// parameters. Deployments override the defaults with a YAML profile.
type EnforcementProfile struct {
	// Grace and cutoff windows, in hours past the deadline.
	GracePeriodHours        int `yaml:"grace_period_hours" json:"grace_period_hours"`
	SelfVerifyWindowHours   int `yaml:"self_verify_window_hours" json:"self_verify_window_hours"`
	HardCutoffHours         int `yaml:"hard_cutoff_hours" json:"hard_cutoff_hours"`
	VerificationWindowHours int `yaml:"verification_window_hours" json:"verification_window_hours"`

	// Reminder lead times before the deadline, descending, and the
	// cooldown between reminders for one contract.
	ReminderLeadHours     []int `yaml:"reminder_lead_hours" json:"reminder_lead_hours"`
	ReminderCooldownHours int   `yaml:"reminder_cooldown_hours" json:"reminder_cooldown_hours"`

	// FollowUpTTLHours time-boxes the per-referee "already followed up"
	// marker.
	FollowUpTTLHours int `yaml:"follow_up_ttl_hours" json:"follow_up_ttl_hours"`

	// Monetary stake bounds in minor units.
	MinStakeMinor int64  `yaml:"min_stake_minor" json:"min_stake_minor"`
	MaxStakeMinor int64  `yaml:"max_stake_minor" json:"max_stake_minor"`
	StakeCurrency string `yaml:"stake_currency" json:"stake_currency"`

	// Drift thresholds.
	HighThreshold   float64 `yaml:"high_threshold" json:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold" json:"medium_threshold"`
	LowThreshold    float64 `yaml:"low_threshold" json:"low_threshold"`
	UrgentDays      int     `yaml:"urgent_days" json:"urgent_days"`
	UrgentGap       float64 `yaml:"urgent_gap" json:"urgent_gap"`
	FatigueHours    int     `yaml:"fatigue_hours" json:"fatigue_hours"`

	// Settlement retry policy.
	RetryMaxAttempts int   `yaml:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBaseMs      int64 `yaml:"retry_base_ms" json:"retry_base_ms"`
	RetryMaxMs       int64 `yaml:"retry_max_ms" json:"retry_max_ms"`
}

// DefaultProfile returns the compiled enforcement defaults.
func DefaultProfile() EnforcementProfile {
	return EnforcementProfile{
		GracePeriodHours:        24,
		SelfVerifyWindowHours:   48,
		HardCutoffHours:         168,
		VerificationWindowHours: 72,
		ReminderLeadHours:       []int{168, 24, 1},
		ReminderCooldownHours:   6,
		FollowUpTTLHours:        168,
		MinStakeMinor:           500,     // $5.00
		MaxStakeMinor:           1000000, // $10,000.00
		StakeCurrency:           "USD",
		HighThreshold:           0.30,
		MediumThreshold:         0.15,
		LowThreshold:            0.03,
		UrgentDays:              7,
		UrgentGap:               0.05,
		FatigueHours:            48,
		RetryMaxAttempts:        3,
		RetryBaseMs:             500,
		RetryMaxMs:              8000,
	}
}

// LoadProfile reads a YAML profile and merges it over the defaults.
// Zero-valued fields in the file keep their default.
func LoadProfile(path string) (EnforcementProfile, error) {
	profile := DefaultProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("load profile %q: %w", path, err)
	}

	var overrides EnforcementProfile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return profile, fmt.Errorf("parse profile %q: %w", path, err)
	}

	mergeProfile(&profile, overrides)
	if err := profile.Validate(); err != nil {
		return profile, fmt.Errorf("profile %q: %w", path, err)
	}
	return profile, nil
}

func mergeProfile(base *EnforcementProfile, o EnforcementProfile) {
	if o.GracePeriodHours > 0 {
		base.GracePeriodHours = o.GracePeriodHours
	}
	if o.SelfVerifyWindowHours > 0 {
		base.SelfVerifyWindowHours = o.SelfVerifyWindowHours
	}
	if o.HardCutoffHours > 0 {
		base.HardCutoffHours = o.HardCutoffHours
	}
	if o.VerificationWindowHours > 0 {
		base.VerificationWindowHours = o.VerificationWindowHours
	}
	if len(o.ReminderLeadHours) > 0 {
		base.ReminderLeadHours = o.ReminderLeadHours
	}
	if o.ReminderCooldownHours > 0 {
		base.ReminderCooldownHours = o.ReminderCooldownHours
	}
	if o.FollowUpTTLHours > 0 {
		base.FollowUpTTLHours = o.FollowUpTTLHours
	}
	if o.MinStakeMinor > 0 {
		base.MinStakeMinor = o.MinStakeMinor
	}
	if o.MaxStakeMinor > 0 {
		base.MaxStakeMinor = o.MaxStakeMinor
	}
	if o.StakeCurrency != "" {
		base.StakeCurrency = o.StakeCurrency
	}
	if o.HighThreshold > 0 {
		base.HighThreshold = o.HighThreshold
	}
	if o.MediumThreshold > 0 {
		base.MediumThreshold = o.MediumThreshold
	}
	if o.LowThreshold > 0 {
		base.LowThreshold = o.LowThreshold
	}
	if o.UrgentDays > 0 {
		base.UrgentDays = o.UrgentDays
	}
	if o.UrgentGap > 0 {
		base.UrgentGap = o.UrgentGap
	}
	if o.FatigueHours > 0 {
		base.FatigueHours = o.FatigueHours
	}
	if o.RetryMaxAttempts > 0 {
		base.RetryMaxAttempts = o.RetryMaxAttempts
	}
	if o.RetryBaseMs > 0 {
		base.RetryBaseMs = o.RetryBaseMs
	}
	if o.RetryMaxMs > 0 {
		base.RetryMaxMs = o.RetryMaxMs
	}
}

// Validate rejects profiles whose windows are internally inconsistent.
func (p EnforcementProfile) Validate() error {
	if p.HardCutoffHours <= p.GracePeriodHours {
		return fmt.Errorf("hard cutoff (%dh) must exceed grace period (%dh)", p.HardCutoffHours, p.GracePeriodHours)
	}
	if p.MinStakeMinor >= p.MaxStakeMinor {
		return fmt.Errorf("min stake (%d) must be below max stake (%d)", p.MinStakeMinor, p.MaxStakeMinor)
	}
	if p.HighThreshold <= p.MediumThreshold || p.MediumThreshold <= p.LowThreshold {
		return fmt.Errorf("risk thresholds must be strictly descending: high=%v medium=%v low=%v",
			p.HighThreshold, p.MediumThreshold, p.LowThreshold)
	}
	return nil
}
