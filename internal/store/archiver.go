package store

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// EventSource is the part of the fabric the archiver listens on
type EventSource interface {
	SubscribeEvents(topic string, handler func(model.Event)) error
	Unsubscribe(topic string) error
}

// Archiver saves every consensus result seen on the fabric
type Archiver struct {
	source      EventSource
	store       ResultStore
	logger      *zap.Logger
	saveTimeout time.Duration

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewArchiver creates an archiver writing into store
func NewArchiver(source EventSource, store ResultStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		source:      source,
		store:       store,
		logger:      logger.Named("archiver"),
		saveTimeout: 5 * time.Second,
	}
}

// Start subscribes to the results topic
func (a *Archiver) Start() error {
	if err := a.source.SubscribeEvents(fabric.TopicConsensusResults, a.handle); err != nil {
		return err
	}
	a.logger.Info("Archiving consensus results", zap.String("topic", fabric.TopicConsensusResults))
	return nil
}

// Stop unsubscribes from the results topic
func (a *Archiver) Stop() error {
	return a.source.Unsubscribe(fabric.TopicConsensusResults)
}

// Counts returns how many results were saved and how many saves failed
func (a *Archiver) Counts() (saved, failed uint64) {
	return a.saved.Load(), a.failed.Load()
}

func (a *Archiver) handle(evt model.Event) {
	if evt.Type != model.EventTypeConsensusResult {
		return
	}
	var result model.ConsensusResult
	if err := json.Unmarshal(evt.Payload, &result); err != nil {
		a.failed.Add(1)
		a.logger.Warn("Dropping undecodable consensus result",
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()

	if err := a.store.Save(ctx, &result); err != nil {
		a.failed.Add(1)
		a.logger.Error("Failed to archive consensus result",
			zap.String("proposal_id", result.ProposalID),
			zap.Error(err))
		return
	}
	a.saved.Add(1)
	a.logger.Debug("Archived consensus result",
		zap.String("proposal_id", result.ProposalID),
		zap.String("decision", string(result.Decision)))
}
