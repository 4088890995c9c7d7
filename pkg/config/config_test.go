package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, uint(20), cfg.Discipline.DefaultProbationAt)
	assert.Equal(t, uint(50), cfg.Discipline.DefaultExpulsionRiskAt)
	assert.True(t, cfg.Notifications.Dedupe)
	assert.Equal(t, 8, cfg.Notifications.FanoutConcurrency)
	assert.Equal(t, 90*24*time.Hour, cfg.Notifications.RetentionPeriod)
	assert.Equal(t, []string{"image/jpeg", "image/png", "application/pdf"}, cfg.Evidence.AllowedMIMEs)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DISCIPLINE_PROBATION_AT", "30")
	t.Setenv("NOTIFICATIONS_DEDUPE", "false")
	t.Setenv("RULES_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint(30), cfg.Discipline.DefaultProbationAt)
	assert.False(t, cfg.Notifications.Dedupe)
	assert.Equal(t, 10*time.Minute, cfg.Rules.CacheTTL)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , ,b "))
}
