package model

import "time"

// EventType classifies events travelling over the fabric
type EventType string

const (
	EventTypeMetrics            EventType = "metrics"
	EventTypeAgentCommand       EventType = "agent_command"
	EventTypeConsensusProposal  EventType = "consensus_proposal"
	EventTypeConsensusVote      EventType = "consensus_vote"
	EventTypeConsensusResult    EventType = "consensus_result"
	EventTypeMutationProposal   EventType = "mutation_proposal"
	EventTypeHealthCheck        EventType = "health_check"
	EventTypeSecurityAlert      EventType = "security_alert"
	EventTypeReplicaReplacement EventType = "replica_replacement"
	EventTypeUIInteraction      EventType = "ui_interaction"
)

// CustomEventType builds an application-defined event type
func CustomEventType(name string) EventType {
	return EventType("custom." + name)
}

// EventPriority orders events for consumers that care
type EventPriority string

const (
	PriorityCritical EventPriority = "critical"
	PriorityHigh     EventPriority = "high"
	PriorityNormal   EventPriority = "normal"
	PriorityLow      EventPriority = "low"
)

// Event is the envelope published on the fabric
type Event struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"event_type"`
	Source        string        `json:"source"`
	Target        string        `json:"target,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Payload       []byte        `json:"payload"`
	Priority      EventPriority `json:"priority"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}
