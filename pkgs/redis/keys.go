package redis

import "fmt"

// KeyBuilder namespaces all redis keys under the coordinator identity so
// multiple coordinators can share one redis instance.
type KeyBuilder struct {
	coordinatorID string
}

// NewKeyBuilder creates a key builder for the given coordinator
func NewKeyBuilder(coordinatorID string) *KeyBuilder {
	return &KeyBuilder{coordinatorID: coordinatorID}
}

func (kb *KeyBuilder) prefix() string {
	return fmt.Sprintf("coordinator:%s", kb.coordinatorID)
}

// SubmissionsTimeline is the sorted set of submission ids scored by arrival time
func (kb *KeyBuilder) SubmissionsTimeline(instanceName string) string {
	return fmt.Sprintf("%s:submissions:%s", kb.prefix(), instanceName)
}

// ValidationsTimeline is the sorted set of vote records scored by vote time
func (kb *KeyBuilder) ValidationsTimeline(instanceName string) string {
	return fmt.Sprintf("%s:validations:%s", kb.prefix(), instanceName)
}

// SettlementsTimeline is the sorted set of settlement records scored by settle time
func (kb *KeyBuilder) SettlementsTimeline(instanceName string) string {
	return fmt.Sprintf("%s:settlements:%s", kb.prefix(), instanceName)
}

// ResolutionsTimeline is the sorted set of window resolutions scored by resolve time
func (kb *KeyBuilder) ResolutionsTimeline() string {
	return fmt.Sprintf("%s:resolutions", kb.prefix())
}

// AgentHeartbeat is the per-agent liveness key
func (kb *KeyBuilder) AgentHeartbeat(agentID string) string {
	return fmt.Sprintf("%s:agents:%s:heartbeat", kb.prefix(), agentID)
}

// Health is the coordinator liveness key
func (kb *KeyBuilder) Health() string {
	return fmt.Sprintf("%s:health", kb.prefix())
}
