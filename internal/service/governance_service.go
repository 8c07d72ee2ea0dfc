package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// Decider submits a proposal and waits for its outcome
type Decider interface {
	Decide(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error)
	RecommendedQuorum() int
}

// CommandRunner routes commands to domain replicas
type CommandRunner interface {
	ProcessCommand(ctx context.Context, coreType model.CoreType, index int, name string, payload []byte) ([]byte, error)
	InstanceIDs(coreType model.CoreType) []string
}

// ConfigApplier applies dotted-key config changes
type ConfigApplier interface {
	ApplyChanges(changes map[string]any, reason string) (*config.Config, error)
}

// EventPublisher publishes typed events on the fabric
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt model.Event) error
}

// Mutation is a proposed self-modification. FitnessScore drives the vote.
type Mutation struct {
	ID           string          `json:"id,omitempty"`
	Description  string          `json:"description"`
	FitnessScore float64         `json:"fitnessScore"`
	Changes      json.RawMessage `json:"changes,omitempty"`
}

// SecurityAction is a command to run on the security domain once approved
type SecurityAction struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Outcome reports what happened to a governance proposal
type Outcome struct {
	ProposalID string                 `json:"proposal_id"`
	Result     *model.ConsensusResult `json:"result"`
	Applied    bool                   `json:"applied"`
	Output     json.RawMessage        `json:"output,omitempty"`
}

// GovernanceService puts node-level changes to a vote and carries out the
// approved ones
type GovernanceService struct {
	nodeID    string
	decider   Decider
	commands  CommandRunner
	configs   ConfigApplier
	publisher EventPublisher
	logger    *zap.Logger
}

// NewGovernanceService creates a new governance service
func NewGovernanceService(
	nodeID string,
	decider Decider,
	commands CommandRunner,
	configs ConfigApplier,
	publisher EventPublisher,
	logger *zap.Logger,
) *GovernanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GovernanceService{
		nodeID:    nodeID,
		decider:   decider,
		commands:  commands,
		configs:   configs,
		publisher: publisher,
		logger:    logger.Named("governance"),
	}
}

// ProposeConfigChange votes on changes and applies them to the running
// configuration when approved
func (s *GovernanceService) ProposeConfigChange(ctx context.Context, changes map[string]any, reason string) (*Outcome, error) {
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, errors.InvalidArgument("config changes are not serializable", err)
	}
	flat, err := nanocore.ParseConfigChanges(data)
	if err != nil {
		return nil, errors.InvalidArgument("invalid config changes", err)
	}

	out, err := s.decide(ctx, &model.Proposal{Type: model.ProposalTypeConfigChange, Data: data})
	if err != nil || out.Result.Decision != model.VoteApprove {
		return out, err
	}

	if _, err := s.configs.ApplyChanges(flat, reason); err != nil {
		return out, errors.InvalidArgument("approved config change could not be applied", err).
			WithDetail("proposal_id", out.ProposalID)
	}
	out.Applied = true
	s.logger.Info("Applied config change",
		zap.String("proposal_id", out.ProposalID),
		zap.Strings("keys", flat.Keys()),
		zap.String("reason", reason))
	return out, nil
}

// ProposeMutation votes on a mutation and publishes it when approved
func (s *GovernanceService) ProposeMutation(ctx context.Context, mutation Mutation) (*Outcome, error) {
	if mutation.Description == "" {
		return nil, errors.InvalidArgument("mutation needs a description", nil)
	}
	data, err := json.Marshal(mutation)
	if err != nil {
		return nil, errors.InvalidArgument("mutation is not serializable", err)
	}

	out, err := s.decide(ctx, &model.Proposal{Type: model.ProposalTypeSystemMutation, Data: data})
	if err != nil || out.Result.Decision != model.VoteApprove {
		return out, err
	}

	if err := s.publisher.PublishEvent(ctx, model.Event{
		Type:          model.EventTypeMutationProposal,
		Source:        s.nodeID,
		Payload:       data,
		Priority:      model.PriorityHigh,
		CorrelationID: out.ProposalID,
	}); err != nil {
		return out, errors.TransportFailure("mutations", err)
	}
	out.Applied = true
	s.logger.Info("Published approved mutation",
		zap.String("proposal_id", out.ProposalID),
		zap.Float64("fitness_score", mutation.FitnessScore))
	return out, nil
}

// ProposeSecurityAction votes on action and runs it on the first security
// replica able to execute it
func (s *GovernanceService) ProposeSecurityAction(ctx context.Context, action SecurityAction) (*Outcome, error) {
	if action.Command == "" {
		return nil, errors.InvalidArgument("security action needs a command", nil)
	}
	replicas := len(s.commands.InstanceIDs(model.CoreTypeSecurity))
	if replicas == 0 {
		return nil, errors.DomainNotFound(string(model.CoreTypeSecurity))
	}
	data, err := json.Marshal(action)
	if err != nil {
		return nil, errors.InvalidArgument("security action is not serializable", err)
	}

	// Only security replicas vote; a majority of them carries the action.
	out, err := s.decide(ctx, &model.Proposal{
		Type:          model.ProposalTypeSecurityAction,
		Data:          data,
		RequiredVotes: replicas/2 + 1,
		Electorate:    string(model.CoreTypeSecurity),
	})
	if err != nil || out.Result.Decision != model.VoteApprove {
		return out, err
	}

	var lastErr error
	for i := 0; i < replicas; i++ {
		output, err := s.commands.ProcessCommand(ctx, model.CoreTypeSecurity, i, action.Command, action.Payload)
		if err == nil {
			out.Applied = true
			out.Output = output
			s.logger.Info("Executed approved security action",
				zap.String("proposal_id", out.ProposalID),
				zap.String("command", action.Command),
				zap.Int("index", i))
			return out, nil
		}
		lastErr = err
		if errors.GetCode(err) == errors.ErrCodeUnsupportedCommand || errors.GetCode(err) == errors.ErrCodeInvalidArgument {
			break
		}
		s.logger.Warn("Security replica failed to execute action",
			zap.String("command", action.Command),
			zap.Int("index", i),
			zap.Error(err))
	}
	return out, lastErr
}

// decide fills in the proposer and, unless set, the recommended quorum
func (s *GovernanceService) decide(ctx context.Context, proposal *model.Proposal) (*Outcome, error) {
	proposalType := proposal.Type
	proposal.Proposer = s.nodeID
	if proposal.RequiredVotes == 0 {
		proposal.RequiredVotes = s.decider.RecommendedQuorum()
	}
	result, err := s.decider.Decide(ctx, proposal)
	if err != nil {
		return nil, fmt.Errorf("failed to decide %s proposal: %w", proposalType, err)
	}

	s.logger.Info("Governance proposal resolved",
		zap.String("proposal_id", result.ProposalID),
		zap.String("proposal_type", string(proposalType)),
		zap.String("decision", string(result.Decision)),
		zap.Float64("confidence", result.ConfidenceScore))
	return &Outcome{ProposalID: result.ProposalID, Result: result}, nil
}
