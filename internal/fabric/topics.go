package fabric

import (
	"strings"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

const (
	TopicMetrics             = "saai.metrics"
	TopicAgentCommands       = "saai.agents.commands"
	TopicConsensusProposals  = "saai.consensus.proposals"
	TopicConsensusVotes      = "saai.consensus.votes"
	TopicConsensusResults    = "saai.consensus.results"
	TopicMutations           = "saai.meca.mutations"
	TopicHealth              = "saai.health"
	TopicSecurityAlerts      = "saai.security.alerts"
	TopicReplicaReplacements = "saai.nanocores.replacements"
	TopicUIInteractions      = "saai.ui.interactions"

	TopicSystemInfo      = "saai.system.info"
	TopicSystemResources = "saai.system.resources"
	TopicHardwareMetrics = "saai.hardware.metrics"
	TopicHardwareAlerts  = "saai.hardware.alerts"
	TopicNetworkMetrics  = "saai.network.metrics"
	TopicNetworkAlerts   = "saai.network.alerts"
	TopicSecurityMetrics = "saai.security.metrics"

	customPrefix = "custom."
)

// TopicForEvent returns the topic an event of the given type is published on
func TopicForEvent(t model.EventType) string {
	switch t {
	case model.EventTypeMetrics:
		return TopicMetrics
	case model.EventTypeAgentCommand:
		return TopicAgentCommands
	case model.EventTypeConsensusProposal:
		return TopicConsensusProposals
	case model.EventTypeConsensusVote:
		return TopicConsensusVotes
	case model.EventTypeConsensusResult:
		return TopicConsensusResults
	case model.EventTypeMutationProposal:
		return TopicMutations
	case model.EventTypeHealthCheck:
		return TopicHealth
	case model.EventTypeSecurityAlert:
		return TopicSecurityAlerts
	case model.EventTypeReplicaReplacement:
		return TopicReplicaReplacements
	case model.EventTypeUIInteraction:
		return TopicUIInteractions
	}
	if name, ok := strings.CutPrefix(string(t), customPrefix); ok {
		return "saai.custom." + name
	}
	return "saai.custom." + string(t)
}
