package consensus

import (
	"time"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// DetermineDecision applies the quorum tie-break rule. Approve needs a strict
// plurality. Reject wins when it has at least as many votes as Approve, unless
// the quorum is nothing but abstentions, which resolves to Abstain.
func DetermineDecision(approve, reject, abstain int) model.VoteDecision {
	switch {
	case approve > reject && approve > abstain:
		return model.VoteApprove
	case reject >= approve && (reject > 0 || abstain == 0):
		return model.VoteReject
	default:
		return model.VoteAbstain
	}
}

// Tally builds the result for a proposal from its recorded votes.
// Votes are unweighted and confidence_score is their plain mean.
func Tally(proposalID string, votes []model.Vote, now time.Time) *model.ConsensusResult {
	counts := map[model.VoteDecision]int{
		model.VoteApprove: 0,
		model.VoteReject:  0,
		model.VoteAbstain: 0,
	}
	participants := make([]string, 0, len(votes))
	var confidence float64

	for _, v := range votes {
		counts[v.Decision]++
		confidence += v.Confidence
		participants = append(participants, v.VoterID)
	}
	if len(votes) > 0 {
		confidence /= float64(len(votes))
	}

	return &model.ConsensusResult{
		ProposalID:            proposalID,
		Decision:              DetermineDecision(counts[model.VoteApprove], counts[model.VoteReject], counts[model.VoteAbstain]),
		VoteCount:             counts,
		ConfidenceScore:       confidence,
		ParticipatingReplicas: participants,
		Timestamp:             now,
	}
}

// StateForScore maps a health score onto the replica state machine
func StateForScore(score float64) model.ReplicaState {
	switch {
	case score > 0.8:
		return model.ReplicaStateHealthy
	case score > 0.5:
		return model.ReplicaStateDegraded
	default:
		return model.ReplicaStateFailed
	}
}
