package nanocore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/util/workerpool"
)

// ReplacementNotice is the payload of replica_replacement events and proposals
type ReplacementNotice struct {
	CoreType      model.CoreType `json:"core_type"`
	Index         int            `json:"index"`
	FailedID      string         `json:"failed_instance_id"`
	ReplacementID string         `json:"replacement_instance_id,omitempty"`
	Reason        string         `json:"reason"`
	Status        string         `json:"status"`
}

const (
	swapRequested   = "requested"
	swapCompleted   = "completed"
	swapRejected    = "rejected"
	swapFailed      = "failed"
	swapRateLimited = "rate_limited"
)

// requestReplacement signals that a replica needs replacing and, when hot
// swap is enabled, queues the swap. At most one swap per slot is pending.
func (m *Manager) requestReplacement(slot *replicaSlot, instanceID, reason string) {
	m.publishReplacement(ReplacementNotice{
		CoreType: slot.coreType,
		Index:    slot.index,
		FailedID: instanceID,
		Reason:   reason,
		Status:   swapRequested,
	})

	if !m.cfg.HotSwap.Enabled || !m.running.Load() || m.swapPool.Pending(slot.key()) {
		return
	}
	if !m.limiter.Allow() {
		m.metrics.RecordHotSwap(string(slot.coreType), swapRateLimited, 0)
		m.logger.Warn("Hot-swap rate limited",
			zap.String("core_type", string(slot.coreType)),
			zap.Int("index", slot.index))
		return
	}

	m.swapPool.TrySubmit(workerpool.Job{
		Key:     slot.key(),
		Timeout: m.cfg.HotSwap.Timeout,
		Run: func(ctx context.Context) error {
			return m.hotSwap(ctx, slot, instanceID, reason)
		},
	})
}

// handleReplicaFailure is called by consensus when a replica's failure
// count reaches the threshold.
func (m *Manager) handleReplicaFailure(replicaID string) {
	for _, s := range m.allSlots() {
		core, p := s.current()
		if p != nil && p.ParticipantID() == replicaID && core != nil {
			m.requestReplacement(s, core.InstanceID(), "consensus failure threshold reached")
			return
		}
	}
}

// hotSwap replaces the replica failedID in slot with a fresh instance. The
// slot keeps its position so the domain always holds replica_count replicas.
func (m *Manager) hotSwap(ctx context.Context, slot *replicaSlot, failedID, reason string) error {
	start := time.Now()
	coreType := string(slot.coreType)

	current, _ := slot.current()
	if current == nil || current.InstanceID() != failedID {
		// Already replaced or shut down
		return nil
	}

	if m.cfg.HotSwap.RequireConsensus {
		approved, err := m.approveReplacement(ctx, slot, failedID, reason)
		if err != nil {
			m.metrics.RecordHotSwap(coreType, swapFailed, time.Since(start).Seconds())
			return err
		}
		if !approved {
			m.metrics.RecordHotSwap(coreType, swapRejected, time.Since(start).Seconds())
			m.logger.Info("Replica replacement rejected by consensus",
				zap.String("core_type", coreType),
				zap.Int("index", slot.index),
				zap.String("instance_id", failedID))
			m.publishReplacement(ReplacementNotice{
				CoreType: slot.coreType,
				Index:    slot.index,
				FailedID: failedID,
				Reason:   reason,
				Status:   swapRejected,
			})
			return nil
		}
	}

	replacement, err := m.factory.Create(slot.coreType, slot.index)
	if err != nil {
		m.metrics.RecordHotSwap(coreType, swapFailed, time.Since(start).Seconds())
		return errors.InitializationFailure(coreType, failedID, err)
	}
	if err := replacement.Initialize(ctx); err != nil {
		m.metrics.RecordHotSwap(coreType, swapFailed, time.Since(start).Seconds())
		_ = replacement.Shutdown(ctx)
		return errors.InitializationFailure(coreType, replacement.InstanceID(), err)
	}
	participant := NewCoreParticipant(replacement.InstanceID(), slot.coreType, slot.index, m.bus, m.logger)

	slot.mu.Lock()
	if slot.core != current || !m.running.Load() {
		slot.mu.Unlock()
		_ = replacement.Shutdown(ctx)
		return nil
	}
	old := slot.participant
	slot.core = replacement
	slot.participant = participant
	slot.mu.Unlock()

	if m.registered.Load() {
		m.consensus.RegisterParticipant(participant)
		if old != nil {
			m.consensus.DeregisterParticipant(old.ParticipantID())
		}
	}

	if err := current.Shutdown(ctx); err != nil {
		m.logger.Warn("Failed to shut down replaced replica",
			zap.String("instance_id", failedID),
			zap.Error(err))
	}

	elapsed := time.Since(start)
	m.metrics.RecordHotSwap(coreType, swapCompleted, elapsed.Seconds())
	m.logger.Info("Replica hot-swapped",
		zap.String("core_type", coreType),
		zap.Int("index", slot.index),
		zap.String("failed_instance_id", failedID),
		zap.String("replacement_instance_id", replacement.InstanceID()),
		zap.Duration("duration", elapsed))
	m.publishReplacement(ReplacementNotice{
		CoreType:      slot.coreType,
		Index:         slot.index,
		FailedID:      failedID,
		ReplacementID: replacement.InstanceID(),
		Reason:        reason,
		Status:        swapCompleted,
	})
	return nil
}

func (m *Manager) approveReplacement(ctx context.Context, slot *replicaSlot, failedID, reason string) (bool, error) {
	data, err := json.Marshal(ReplacementNotice{
		CoreType: slot.coreType,
		Index:    slot.index,
		FailedID: failedID,
		Reason:   reason,
		Status:   swapRequested,
	})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.HotSwap.ApprovalTimeout)
	defer cancel()

	proposal := &model.Proposal{
		Type:          model.ProposalTypeReplicaReplacement,
		Proposer:      m.cfg.NodeID,
		Data:          data,
		RequiredVotes: m.consensus.RecommendedQuorum(),
	}

	result, err := m.Decide(ctx, proposal)
	if err != nil {
		return false, err
	}
	return result.Decision == model.VoteApprove, nil
}

func (m *Manager) publishReplacement(notice ReplacementNotice) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return
	}
	err = m.bus.PublishEvent(m.ctx, model.Event{
		Type:     model.EventTypeReplicaReplacement,
		Source:   m.cfg.NodeID,
		Payload:  payload,
		Priority: model.PriorityCritical,
	})
	if err != nil && m.ctx.Err() == nil {
		m.logger.Warn("Failed to publish replacement event",
			zap.String("core_type", string(notice.CoreType)),
			zap.Int("index", notice.Index),
			zap.Error(err))
	}
}
