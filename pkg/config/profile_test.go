package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfile_Valid(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())

	assert.Equal(t, 24, p.GracePeriodHours)
	assert.Equal(t, 168, p.HardCutoffHours)
	assert.Equal(t, []int{168, 24, 1}, p.ReminderLeadHours)
	assert.Equal(t, int64(500), p.MinStakeMinor)
}

func TestLoadProfile_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := []byte("grace_period_hours: 48\nmin_stake_minor: 1000\nfatigue_hours: 24\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, 48, p.GracePeriodHours)
	assert.Equal(t, int64(1000), p.MinStakeMinor)
	assert.Equal(t, 24, p.FatigueHours)
	// Untouched fields keep defaults.
	assert.Equal(t, 168, p.HardCutoffHours)
	assert.Equal(t, 0.30, p.HighThreshold)
}

func TestLoadProfile_RejectsInconsistentWindows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := []byte("grace_period_hours: 200\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := LoadProfile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard cutoff")
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.NotZero(t, cfg.EnforcementInterval)
	assert.NotZero(t, cfg.LockTTL)
}
