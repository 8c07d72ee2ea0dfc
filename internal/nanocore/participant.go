package nanocore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// CoreParticipant votes on behalf of one replica. The replica itself knows
// nothing about consensus; the orchestrator keeps the cached health score
// current.
type CoreParticipant struct {
	id       string
	coreType model.CoreType
	index    int
	bus      Bus
	logger   *zap.Logger

	score    atomic.Uint64 // math.Float64bits of the health score
	checkErr atomic.Pointer[error]
}

// NewCoreParticipant wraps replica slot index of coreType. bus may be nil.
func NewCoreParticipant(id string, coreType model.CoreType, index int, bus Bus, logger *zap.Logger) *CoreParticipant {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &CoreParticipant{
		id:       id,
		coreType: coreType,
		index:    index,
		bus:      bus,
		logger:   logger,
	}
	p.score.Store(math.Float64bits(1.0))
	return p
}

// ParticipantID returns the wrapped replica's instance id
func (p *CoreParticipant) ParticipantID() string { return p.id }

// InstanceType returns the replica's domain name
func (p *CoreParticipant) InstanceType() string { return string(p.coreType) }

// HealthScore returns the cached health score
func (p *CoreParticipant) HealthScore() float64 {
	return math.Float64frombits(p.score.Load())
}

// UpdateHealthScore stores score clamped to [0,1]
func (p *CoreParticipant) UpdateHealthScore(score float64) {
	if math.IsNaN(score) || score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	p.score.Store(math.Float64bits(score))
}

// Vote evaluates proposal for this replica's domain
func (p *CoreParticipant) Vote(_ context.Context, proposal *model.Proposal) (*model.Vote, error) {
	if proposal == nil {
		return nil, fmt.Errorf("nil proposal")
	}
	health := p.HealthScore()
	decision := p.evaluate(proposal, health)

	return &model.Vote{
		ProposalID: proposal.ID,
		VoterID:    p.id,
		Decision:   decision,
		Confidence: health*0.9 + 0.1,
		Reasoning:  fmt.Sprintf("%s replica %d voted %s at health %.2f", p.coreType, p.index, decision, health),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (p *CoreParticipant) evaluate(proposal *model.Proposal, health float64) model.VoteDecision {
	switch proposal.Type {
	case model.ProposalTypeHealthCheck:
		if health > 0.7 {
			return model.VoteApprove
		}
		return model.VoteAbstain

	case model.ProposalTypeConfigChange:
		switch p.coreType {
		case model.CoreTypeSecurity:
			return EvaluateSecurityConfigChange(proposal.Data)
		case model.CoreTypeNetwork:
			return EvaluateNetworkConfigChange(proposal.Data)
		default:
			return model.VoteApprove
		}

	case model.ProposalTypeReplicaReplacement:
		if health > 0.8 {
			return model.VoteApprove
		}
		return model.VoteReject

	case model.ProposalTypeSystemMutation:
		return evaluateMutation(proposal.Data)

	case model.ProposalTypeSecurityAction:
		if p.coreType == model.CoreTypeSecurity {
			return model.VoteApprove
		}
		return model.VoteAbstain
	}
	return model.VoteAbstain
}

func evaluateMutation(data []byte) model.VoteDecision {
	var mutation struct {
		FitnessScore *float64 `json:"fitnessScore"`
	}
	if err := json.Unmarshal(data, &mutation); err != nil || mutation.FitnessScore == nil {
		return model.VoteAbstain
	}
	if *mutation.FitnessScore > 0.8 {
		return model.VoteApprove
	}
	return model.VoteReject
}

// RecordHealthCheck stores the outcome of the replica's latest health check.
// A non-nil err is reported by HealthCheck until a later check succeeds.
func (p *CoreParticipant) RecordHealthCheck(score float64, err error) {
	p.UpdateHealthScore(score)
	if err == nil {
		p.checkErr.Store(nil)
		return
	}
	p.checkErr.Store(&err)
}

// HealthCheck returns the cached health score, and the error of the last
// replica health check if it failed
func (p *CoreParticipant) HealthCheck(context.Context) (float64, error) {
	if err := p.checkErr.Load(); err != nil {
		return p.HealthScore(), fmt.Errorf("replica %s health check failed: %w", p.id, *err)
	}
	return p.HealthScore(), nil
}

// HandleConsensusResult publishes an observability event; replica state is untouched
func (p *CoreParticipant) HandleConsensusResult(ctx context.Context, result *model.ConsensusResult) error {
	p.logger.Debug("Replica observed consensus result",
		zap.String("core_type", string(p.coreType)),
		zap.Int("index", p.index),
		zap.String("proposal_id", result.ProposalID),
		zap.String("decision", string(result.Decision)))

	if p.bus == nil {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode consensus result: %w", err)
	}
	return p.bus.PublishEvent(ctx, model.Event{
		Type:          model.EventTypeConsensusVote,
		Source:        fmt.Sprintf("%s-%d", p.coreType, p.index),
		Payload:       payload,
		Priority:      model.PriorityHigh,
		CorrelationID: result.ProposalID,
	})
}
