package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event being emitted
type EventType string

const (
	// Submission lifecycle events
	EventSubmissionReceived EventType = "submission_received"
	EventSolutionAccepted   EventType = "solution_accepted"
	EventSolutionRejected   EventType = "solution_rejected"

	// Validation window events
	EventWindowOpened   EventType = "window_opened"
	EventVoteRecorded   EventType = "vote_recorded"
	EventWindowResolved EventType = "window_resolved"

	// Reward events
	EventRewardSettled       EventType = "reward_settled"
	EventInstanceDeactivated EventType = "instance_deactivated"

	// Best solution events
	EventBestSolutionPromoted EventType = "best_solution_promoted"
)

// EventSeverity indicates the importance of an event
type EventSeverity string

const (
	SeverityDebug   EventSeverity = "debug"
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event is a system event with metadata and a type-specific payload
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`

	Component     string `json:"component"`      // component that generated the event
	CoordinatorID string `json:"coordinator_id"` // coordinating node identity

	Payload json.RawMessage `json:"payload"`

	InstanceName string `json:"instance_name,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	AgentID      string `json:"agent_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SubmissionEventPayload carries data for submission lifecycle events
type SubmissionEventPayload struct {
	SubmissionID   string   `json:"submission_id"`
	InstanceName   string   `json:"instance_name"`
	AgentID        string   `json:"agent_id"`
	ObjectiveValue *float64 `json:"objective_value,omitempty"`
	Reason         string   `json:"reason,omitempty"` // for rejection events
}

// WindowEventPayload carries data for validation window events
type WindowEventPayload struct {
	SubmissionID  string `json:"submission_id"`
	InstanceName  string `json:"instance_name"`
	OpenedAt      int64  `json:"opened_at,omitempty"`
	ClosesAt      int64  `json:"closes_at,omitempty"`
	ResolvedAt    int64  `json:"resolved_at,omitempty"`
	AcceptedCount int    `json:"accepted_count,omitempty"`
	RejectedCount int    `json:"rejected_count,omitempty"`
	Accepted      bool   `json:"accepted,omitempty"`
	EarlyDecision bool   `json:"early_decision,omitempty"`
}

// VoteEventPayload carries data for recorded validation votes
type VoteEventPayload struct {
	SubmissionID   string  `json:"submission_id"`
	InstanceName   string  `json:"instance_name"`
	ValidatorID    string  `json:"validator_id"`
	Accept         bool    `json:"accept"`
	ObjectiveValue float64 `json:"objective_value"`
}

// SettlementEventPayload carries data for reward settlements
type SettlementEventPayload struct {
	SubmissionID string           `json:"submission_id"`
	InstanceName string           `json:"instance_name"`
	Applied      int64            `json:"applied"`
	PerAgent     map[string]int64 `json:"per_agent,omitempty"`
	Degraded     bool             `json:"degraded,omitempty"`
	Exhausted    bool             `json:"exhausted,omitempty"`
}

// BestSolutionEventPayload carries data for best-solution promotions
type BestSolutionEventPayload struct {
	InstanceName   string  `json:"instance_name"`
	SubmissionID   string  `json:"submission_id"`
	ObjectiveValue float64 `json:"objective_value"`
	Previous       string  `json:"previous_submission_id,omitempty"`
}

// EventHandler is called when an event is emitted
type EventHandler func(event *Event)

// Subscriber receives events, optionally filtered by type
type Subscriber struct {
	ID      string
	Handler EventHandler
	Types   []EventType // empty = all types
}

// String returns a short human-readable representation of the event
func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s: %s (component=%s, submission=%s)",
		e.Timestamp.Format(time.RFC3339), e.Severity, e.Type, e.Component, e.SubmissionID)
}

// ToJSON serializes the event
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates an event with the given parameters
func NewEvent(eventType EventType, severity EventSeverity, component string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Component: component,
		Payload:   payloadBytes,
	}, nil
}
