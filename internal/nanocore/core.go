// Package nanocore runs each functional domain as a fixed set of redundant
// replicas, supervises them, replaces failed ones and bridges every replica
// into the consensus protocol.
package nanocore

import (
	"context"

	"github.com/Alfredo-rv/SAAI/internal/consensus"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// NanoCore is the capability set every domain replica implements
type NanoCore interface {
	CoreType() model.CoreType
	InstanceID() string
	Initialize(ctx context.Context) error
	// Run performs one unit of domain work and returns
	Run(ctx context.Context) error
	HealthCheck(ctx context.Context) (*model.CoreHealth, error)
	Shutdown(ctx context.Context) error
	ProcessCommand(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// Factory builds replicas for a domain. index is the replica slot.
type Factory interface {
	Create(coreType model.CoreType, index int) (NanoCore, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(coreType model.CoreType, index int) (NanoCore, error)

// Create calls f
func (f FactoryFunc) Create(coreType model.CoreType, index int) (NanoCore, error) {
	return f(coreType, index)
}

// Bus is the part of the event fabric used by the orchestrator and its cores
type Bus interface {
	PublishEvent(ctx context.Context, evt model.Event) error
	Publish(ctx context.Context, topic string, payload []byte) error
	SubscribeEvents(topic string, handler func(model.Event)) error
	Unsubscribe(topic string) error
	AverageLatencyMs() float64
}

// Consensus is the part of the consensus manager the orchestrator drives
type Consensus interface {
	RegisterParticipant(p consensus.Participant)
	DeregisterParticipant(id string) bool
	OnFailureThreshold(fn func(replicaID string))
	SolicitVotes(ctx context.Context, proposal *model.Proposal) (int, error)
	Decide(ctx context.Context, proposal *model.Proposal) (*model.ConsensusResult, error)
	DecideWithVotes(ctx context.Context, proposal *model.Proposal) (*model.ConsensusResult, error)
	HealthRatio() float64
	RecommendedQuorum() int
}
