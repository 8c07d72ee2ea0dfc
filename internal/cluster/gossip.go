// Package cluster gossips node health between SAAI nodes with memberlist.
package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// NodeHealth is the summary each node advertises as memberlist metadata.
// It must stay below memberlist.MetaMaxSize once encoded.
type NodeHealth struct {
	NodeID          string          `json:"node_id"`
	State           model.CoreState `json:"state"`
	Healthy         bool            `json:"healthy"`
	ConsensusHealth float64         `json:"consensus_health"`
	FabricLatencyMs float64         `json:"fabric_latency_ms"`
	Instances       int             `json:"instances"`
	Timestamp       int64           `json:"timestamp"`
}

// Summarize reduces a SystemHealth snapshot to what is gossiped
func Summarize(nodeID string, h model.SystemHealth) NodeHealth {
	ts := h.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return NodeHealth{
		NodeID:          nodeID,
		State:           h.OverallState,
		Healthy:         h.IsHealthy(),
		ConsensusHealth: h.ConsensusHealth,
		FabricLatencyMs: h.FabricLatencyMs,
		Instances:       h.InstanceCount(),
		Timestamp:       ts.Unix(),
	}
}

// Member is one node of the cluster as seen locally
type Member struct {
	Name   string      `json:"name"`
	Addr   string      `json:"addr"`
	Port   uint16      `json:"port"`
	State  string      `json:"state"`
	Health *NodeHealth `json:"health,omitempty"`
}

// GossipService manages cluster membership and health propagation
type GossipService struct {
	memberlist *memberlist.Memberlist
	nodeID     string
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.RWMutex
	health NodeHealth
}

// NewGossipService creates the memberlist node and joins the configured seeds
func NewGossipService(cfg config.GossipConfig, nodeID string, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gs := &GossipService{
		nodeID:  nodeID,
		metrics: m,
		logger:  logger.Named("gossip"),
		health: NodeHealth{
			NodeID:    nodeID,
			State:     model.CoreStateInitializing,
			Timestamp: time.Now().Unix(),
		},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{service: gs}
	mlConfig.Logger = zap.NewStdLog(gs.logger.Named("memberlist"))

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			gs.logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		gs.logger.Info("Joined cluster", zap.Int("contacted", n))
	}
	gs.refreshStats()
	return gs, nil
}

// Addr returns the address memberlist is advertising
func (s *GossipService) Addr() string {
	n := s.memberlist.LocalNode()
	return fmt.Sprintf("%s:%d", n.Addr, n.Port)
}

// Join contacts additional nodes
func (s *GossipService) Join(addrs []string) (int, error) {
	n, err := s.memberlist.Join(addrs)
	s.refreshStats()
	return n, err
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	data, _ := json.Marshal(s.health)
	s.mu.RUnlock()
	if len(data) > limit {
		s.logger.Warn("Node metadata truncated", zap.Int("size", len(data)), zap.Int("limit", limit))
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var h NodeHealth
	if err := json.Unmarshal(data, &h); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	s.logger.Debug("Received health status",
		zap.String("node_id", h.NodeID),
		zap.String("state", string(h.State)))
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.health)
	return data
}

// MergeRemoteState implements memberlist.Delegate. Health travels as node
// metadata, so the push/pull state is only logged.
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	var h NodeHealth
	if err := json.Unmarshal(buf, &h); err == nil {
		s.logger.Debug("Merged remote state", zap.String("node_id", h.NodeID), zap.Bool("join", join))
	}
}

// UpdateHealth replaces the advertised summary and pushes it to peers
func (s *GossipService) UpdateHealth(h model.SystemHealth) {
	s.mu.Lock()
	s.health = Summarize(s.nodeID, h)
	s.mu.Unlock()

	if err := s.memberlist.UpdateNode(time.Second); err != nil {
		s.logger.Warn("Failed to propagate node metadata", zap.Error(err))
	}
	s.refreshStats()
}

// LocalHealth returns what this node currently advertises
func (s *GossipService) LocalHealth() NodeHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Members lists every known node with its decoded health summary
func (s *GossipService) Members() []Member {
	nodes := s.memberlist.Members()
	out := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		m := Member{
			Name:  n.Name,
			Addr:  n.Addr.String(),
			Port:  n.Port,
			State: nodeState(n.State),
		}
		if len(n.Meta) > 0 {
			var h NodeHealth
			if err := json.Unmarshal(n.Meta, &h); err == nil {
				m.Health = &h
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *GossipService) refreshStats() {
	members := s.Members()
	healthy := 0
	for _, m := range members {
		if m.State == "alive" && m.Health != nil && m.Health.Healthy {
			healthy++
		}
	}
	s.metrics.UpdateGossipStats(len(members), healthy)
}

// Shutdown leaves the cluster and stops memberlist
func (s *GossipService) Shutdown() error {
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to leave cluster cleanly", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

func nodeState(st memberlist.NodeStateType) string {
	switch st {
	case memberlist.StateAlive:
		return "alive"
	case memberlist.StateSuspect:
		return "suspect"
	case memberlist.StateDead:
		return "dead"
	case memberlist.StateLeft:
		return "left"
	}
	return "unknown"
}

// gossipEventDelegate handles memberlist events
type gossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
}

// NotifyLeave is called when a node leaves
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
