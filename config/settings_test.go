package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfig())
	s := SettingsObj

	require.Equal(t, "coordinator-1", s.CoordinatorID)
	require.Equal(t, time.Minute, s.SolutionValidationDuration)
	require.Equal(t, 0.5, s.SolutionValidationConsensusRatio)
	require.EqualValues(t, 10, s.SuccessfulSolutionSubmissionReward)
	require.EqualValues(t, 1, s.SolutionValidationReward)
	require.Equal(t, 15*time.Second, s.MinValidationTimeLeft)
	require.True(t, s.DefaultMinimize)
	require.Equal(t, "localhost:6379", s.RedisAddr())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SOLUTION_VALIDATION_DURATION", "120")
	t.Setenv("SOLUTION_VALIDATION_CONSENSUS_RATIO", "0.75")
	t.Setenv("OPTIMIZATION_DIRECTION", "maximize")
	t.Setenv("EVENTS_ENABLED", "true")

	require.NoError(t, LoadConfig())
	s := SettingsObj

	require.Equal(t, 2*time.Minute, s.SolutionValidationDuration)
	require.Equal(t, 0.75, s.SolutionValidationConsensusRatio)
	require.False(t, s.DefaultMinimize)
	require.True(t, s.EventsEnabled)
}

func TestLoadConfigRejectsBadRatio(t *testing.T) {
	t.Setenv("SOLUTION_VALIDATION_CONSENSUS_RATIO", "1.5")
	require.Error(t, LoadConfig())
}
