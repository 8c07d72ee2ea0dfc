package model

import "time"

// ReplicaState is the consensus-side health state of a registered replica
type ReplicaState string

const (
	ReplicaStateHealthy     ReplicaState = "healthy"
	ReplicaStateDegraded    ReplicaState = "degraded"
	ReplicaStateFailed      ReplicaState = "failed"
	ReplicaStateRecovering  ReplicaState = "recovering"
	ReplicaStateQuarantined ReplicaState = "quarantined"
)

// ReplicaInfo tracks one registered consensus participant
type ReplicaInfo struct {
	ID               string       `json:"id"`
	InstanceType     string       `json:"instance_type"`
	State            ReplicaState `json:"state"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
	FailureCount     uint32       `json:"failure_count"`
	VoteWeight       float64      `json:"vote_weight"`
	PerformanceScore float64      `json:"performance_score"`
}

// ProposalType identifies what a proposal asks the replicas to decide
type ProposalType string

const (
	ProposalTypeHealthCheck        ProposalType = "health_check"
	ProposalTypeConfigChange       ProposalType = "config_change"
	ProposalTypeReplicaReplacement ProposalType = "replica_replacement"
	ProposalTypeSystemMutation     ProposalType = "system_mutation"
	ProposalTypeSecurityAction     ProposalType = "security_action"
)

// Valid reports whether t is a known proposal type
func (t ProposalType) Valid() bool {
	switch t {
	case ProposalTypeHealthCheck, ProposalTypeConfigChange, ProposalTypeReplicaReplacement,
		ProposalTypeSystemMutation, ProposalTypeSecurityAction:
		return true
	}
	return false
}

// Proposal is a unit of decision submitted for a quorum vote
type Proposal struct {
	ID            string       `json:"id"`
	Type          ProposalType `json:"proposal_type"`
	Proposer      string       `json:"proposer"`
	Data          []byte       `json:"data"`
	Timestamp     time.Time    `json:"timestamp"`
	RequiredVotes int          `json:"required_votes"`
	// Electorate, when set, restricts voting to replicas of that instance type
	Electorate string `json:"electorate,omitempty"`
}

// VoteDecision is a single voter's answer to a proposal
type VoteDecision string

const (
	VoteApprove VoteDecision = "approve"
	VoteReject  VoteDecision = "reject"
	VoteAbstain VoteDecision = "abstain"
)

// Vote is one participant's ballot on a proposal
type Vote struct {
	ProposalID string       `json:"proposal_id"`
	VoterID    string       `json:"voter_id"`
	Decision   VoteDecision `json:"decision"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ConsensusResult is the terminal record of a resolved proposal
type ConsensusResult struct {
	ProposalID            string               `json:"proposal_id"`
	Decision              VoteDecision         `json:"decision"`
	VoteCount             map[VoteDecision]int `json:"vote_count"`
	ConfidenceScore       float64              `json:"confidence_score"`
	ParticipatingReplicas []string             `json:"participating_replicas"`
	Timestamp             time.Time            `json:"timestamp"`
}

// ProposalStatus describes where a proposal is in its lifecycle
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusResolved ProposalStatus = "resolved"
	ProposalStatusExpired  ProposalStatus = "expired"
	ProposalStatusUnknown  ProposalStatus = "unknown"
)
