// Package config holds service configuration: environment-driven process
// settings and the enforcement profile (grace windows, stake bounds, risk
// thresholds) with compiled defaults and optional YAML overrides.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds daemon configuration, parsed from environment variables.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// DatabaseDriver selects the store backend: "sqlite" or "postgres".
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:stakebound.db?_pragma=journal_mode(WAL)"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// LLMServiceURL is the text-generation collaborator endpoint; empty
	// disables remote generation and uses static templates only.
	LLMServiceURL string `env:"LLM_SERVICE_URL"`

	// GoalServiceURL is the goal progress collaborator endpoint; empty
	// disables the drift scan job.
	GoalServiceURL string `env:"GOAL_SERVICE_URL"`

	OTLPEndpoint     string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TelemetryEnabled bool   `env:"TELEMETRY_ENABLED" envDefault:"false"`

	// ProfilePath optionally points at a YAML enforcement profile that
	// overrides the compiled defaults.
	ProfilePath string `env:"ENFORCEMENT_PROFILE"`

	// Job intervals. Schedule expressions and time zones are deployment
	// configuration; these are the tick periods between runs.
	EnforcementInterval     time.Duration `env:"ENFORCEMENT_INTERVAL" envDefault:"24h"`
	ReminderInterval        time.Duration `env:"REMINDER_INTERVAL" envDefault:"1h"`
	RefereeFollowUpInterval time.Duration `env:"REFEREE_FOLLOWUP_INTERVAL" envDefault:"168h"`
	GroupResolutionInterval time.Duration `env:"GROUP_RESOLUTION_INTERVAL" envDefault:"24h"`
	GroupNudgeInterval      time.Duration `env:"GROUP_NUDGE_INTERVAL" envDefault:"168h"`
	DriftScanInterval       time.Duration `env:"DRIFT_SCAN_INTERVAL" envDefault:"24h"`

	// LockTTL bounds each job lease. Job latency must stay well under it.
	LockTTL time.Duration `env:"JOB_LOCK_TTL" envDefault:"10m"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
