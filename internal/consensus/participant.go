package consensus

import (
	"context"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// Participant is anything that can vote on proposals and be health-checked.
// Implementations must be safe for concurrent use.
type Participant interface {
	ParticipantID() string
	Vote(ctx context.Context, proposal *model.Proposal) (*model.Vote, error)
	// HealthCheck returns a score in [0,1]
	HealthCheck(ctx context.Context) (float64, error)
	HandleConsensusResult(ctx context.Context, result *model.ConsensusResult) error
}

// TypedParticipant is a Participant that reports which domain it belongs to
type TypedParticipant interface {
	Participant
	InstanceType() string
}

// EventPublisher is the slice of the fabric the manager needs
type EventPublisher interface {
	PublishEvent(ctx context.Context, evt model.Event) error
}
