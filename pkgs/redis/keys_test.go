package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyBuilderNamespacing(t *testing.T) {
	kb := NewKeyBuilder("coordinator-1")

	require.Equal(t, "coordinator:coordinator-1:submissions:inst", kb.SubmissionsTimeline("inst"))
	require.Equal(t, "coordinator:coordinator-1:validations:inst", kb.ValidationsTimeline("inst"))
	require.Equal(t, "coordinator:coordinator-1:settlements:inst", kb.SettlementsTimeline("inst"))
	require.Equal(t, "coordinator:coordinator-1:resolutions", kb.ResolutionsTimeline())
	require.Equal(t, "coordinator:coordinator-1:agents:agent_1:heartbeat", kb.AgentHeartbeat("agent_1"))
	require.Equal(t, "coordinator:coordinator-1:health", kb.Health())
}

func TestKeyBuilderSeparatesCoordinators(t *testing.T) {
	a := NewKeyBuilder("a")
	b := NewKeyBuilder("b")
	require.NotEqual(t, a.SubmissionsTimeline("inst"), b.SubmissionsTimeline("inst"))
}
