package nanocore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// ScoreForState maps a replica's self-reported state to the health score its
// consensus participant reports.
func ScoreForState(state model.CoreState) float64 {
	switch state {
	case model.CoreStateRunning:
		return 1.0
	case model.CoreStateDegraded:
		return 0.6
	case model.CoreStateInitializing:
		return 0.5
	default:
		return 0.0
	}
}

// OverallState is Running when more than 80% of instances run, Degraded above
// 50% and Failed otherwise. With no instances the node is Shutdown.
func OverallState(running, total int) model.CoreState {
	if total == 0 {
		return model.CoreStateShutdown
	}
	ratio := float64(running) / float64(total)
	switch {
	case ratio > 0.8:
		return model.CoreStateRunning
	case ratio > 0.5:
		return model.CoreStateDegraded
	default:
		return model.CoreStateFailed
	}
}

// OnHealth registers fn to receive every aggregate health snapshot
func (m *Manager) OnHealth(fn func(model.SystemHealth)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// LastHealth returns the snapshot from the latest monitoring tick
func (m *Manager) LastHealth() (model.SystemHealth, bool) {
	h := m.lastHealth.Load()
	if h == nil {
		return model.SystemHealth{}, false
	}
	return *h, true
}

// GetHealthStatus snapshots every replica and refreshes each participant's
// cached health score from it.
func (m *Manager) GetHealthStatus(ctx context.Context) model.SystemHealth {
	health, _ := m.collectHealth(ctx)
	return health
}

type failedReplica struct {
	slot       *replicaSlot
	instanceID string
}

func (m *Manager) collectHealth(ctx context.Context) (model.SystemHealth, []failedReplica) {
	now := time.Now().UTC()
	health := model.SystemHealth{
		Cores:     make(map[model.CoreType][]model.CoreHealth),
		Timestamp: now,
	}

	var failed []failedReplica
	running, total := 0, 0
	for _, s := range m.allSlots() {
		s.mu.Lock()
		core, p := s.core, s.participant
		if core == nil {
			s.mu.Unlock()
			continue
		}
		h, err := core.HealthCheck(ctx)
		s.mu.Unlock()

		if err == nil && h == nil {
			err = errors.New("replica returned no health report")
		}
		if err != nil {
			m.logger.Warn("Replica health check failed",
				zap.String("core_type", string(s.coreType)),
				zap.String("instance_id", core.InstanceID()),
				zap.Error(err))
			h = &model.CoreHealth{
				CoreType:      s.coreType,
				InstanceID:    core.InstanceID(),
				State:         model.CoreStateFailed,
				LastHeartbeat: now,
			}
		}

		p.RecordHealthCheck(ScoreForState(h.State), err)
		health.Cores[s.coreType] = append(health.Cores[s.coreType], *h)

		total++
		switch h.State {
		case model.CoreStateRunning:
			running++
		case model.CoreStateFailed:
			failed = append(failed, failedReplica{slot: s, instanceID: core.InstanceID()})
		}
	}

	health.OverallState = OverallState(running, total)
	health.ConsensusHealth = m.consensus.HealthRatio()
	if m.bus != nil {
		health.FabricLatencyMs = m.bus.AverageLatencyMs()
	}
	return health, failed
}

func (m *Manager) startMonitor() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if !m.running.Load() {
		return
	}
	m.monitorOnce.Do(func() {
		m.wg.Add(1)
		go m.monitorLoop()
	})
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	m.monitorTick()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.monitorTick()
		}
	}
}

func (m *Manager) monitorTick() {
	health, failed := m.collectHealth(m.ctx)
	m.lastHealth.Store(&health)

	if m.metrics != nil {
		instances := make(map[[2]string]int)
		for t, cores := range health.Cores {
			for _, c := range cores {
				instances[[2]string{string(t), string(c.State)}]++
			}
		}
		m.metrics.UpdateSystemHealth(string(health.OverallState), health.ConsensusHealth, instances)
	}

	if m.bus != nil {
		if payload, err := json.Marshal(health); err == nil {
			err = m.bus.PublishEvent(m.ctx, model.Event{
				Type:     model.EventTypeHealthCheck,
				Source:   m.cfg.NodeID,
				Payload:  payload,
				Priority: model.PriorityNormal,
			})
			if err != nil && m.ctx.Err() == nil {
				m.logger.Warn("Failed to publish health snapshot", zap.Error(err))
			}
		}
	}

	m.listenersMu.RLock()
	listeners := make([]func(model.SystemHealth), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(health)
	}

	if health.OverallState != model.CoreStateRunning {
		m.logger.Warn("System health below running",
			zap.String("overall_state", string(health.OverallState)),
			zap.Int("instances", health.InstanceCount()))
	}

	for _, f := range failed {
		m.requestReplacement(f.slot, f.instanceID, "replica reported failed state")
	}
}
