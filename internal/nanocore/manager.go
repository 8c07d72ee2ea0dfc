package nanocore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/util/workerpool"
)

// HotSwapConfig controls replacement of failed replicas
type HotSwapConfig struct {
	Enabled          bool
	RequireConsensus bool
	MaxPerMinute     float64
	Burst            int
	Workers          int
	ApprovalTimeout  time.Duration
	Timeout          time.Duration
	StopTimeout      time.Duration
}

// ManagerConfig holds orchestrator configuration
type ManagerConfig struct {
	NodeID          string
	ReplicaCount    int
	LoopInterval    time.Duration
	MonitorInterval time.Duration
	// AutoVote subscribes to the proposal topic and solicits local votes
	// for every proposal this node publishes.
	AutoVote bool
	HotSwap  HotSwapConfig
}

// DefaultManagerConfig returns the stock orchestrator settings
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		NodeID:          "saai-node",
		ReplicaCount:    3,
		LoopInterval:    100 * time.Millisecond,
		MonitorInterval: 5 * time.Second,
		AutoVote:        true,
		HotSwap: HotSwapConfig{
			Enabled:         true,
			MaxPerMinute:    12,
			Burst:           4,
			Workers:         2,
			ApprovalTimeout: 2 * time.Second,
			Timeout:         30 * time.Second,
			StopTimeout:     5 * time.Second,
		},
	}
}

// ManagerConfigFrom builds orchestrator settings from the node configuration
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	nc := cfg.NanoCores
	out := DefaultManagerConfig()
	out.NodeID = cfg.Server.NodeID
	out.ReplicaCount = cfg.Consensus.ReplicaCount
	out.LoopInterval = time.Duration(nc.LoopIntervalMs) * time.Millisecond
	out.MonitorInterval = time.Duration(nc.MonitorIntervalMs) * time.Millisecond
	out.AutoVote = nc.AutoVote
	out.HotSwap.Enabled = nc.HotSwap.Enabled
	out.HotSwap.RequireConsensus = nc.HotSwap.RequireConsensus
	out.HotSwap.MaxPerMinute = nc.HotSwap.MaxPerMinute
	out.HotSwap.Burst = nc.HotSwap.Burst
	out.HotSwap.Workers = nc.HotSwap.Workers
	out.HotSwap.ApprovalTimeout = time.Duration(nc.HotSwap.ApprovalTimeoutMs) * time.Millisecond
	return out
}

// replicaSlot is one fixed position in a domain. The core in a slot changes
// on hot-swap; the slot itself lives as long as the domain.
type replicaSlot struct {
	coreType model.CoreType
	index    int

	// mu serializes calls into core and guards core and participant
	mu          sync.Mutex
	core        NanoCore
	participant *CoreParticipant
}

func (s *replicaSlot) key() string {
	return fmt.Sprintf("%s-%d", s.coreType, s.index)
}

func (s *replicaSlot) current() (NanoCore, *CoreParticipant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core, s.participant
}

// Manager orchestrates replica_count replicas per domain: it starts and
// supervises them, aggregates their health, replaces failed ones and
// registers each one with consensus through a CoreParticipant.
type Manager struct {
	cfg       ManagerConfig
	factory   Factory
	bus       Bus
	consensus Consensus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	startMu sync.Mutex
	mu      sync.RWMutex
	domains map[model.CoreType][]*replicaSlot

	running      atomic.Bool
	registered   atomic.Bool
	relayActive  atomic.Bool
	monitorOnce  sync.Once
	shutdownOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	swapPool *workerpool.Pool
	limiter  *rate.Limiter

	lastHealth  atomic.Pointer[model.SystemHealth]
	listenersMu sync.RWMutex
	listeners   []func(model.SystemHealth)
}

// NewManager creates an orchestrator. bus may be nil in tests.
func NewManager(cfg ManagerConfig, factory Factory, bus Bus, cons Consensus, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if cfg.ReplicaCount <= 0 {
		cfg.ReplicaCount = 3
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 100 * time.Millisecond
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if cfg.HotSwap.MaxPerMinute <= 0 {
		cfg.HotSwap.MaxPerMinute = 12
	}
	if cfg.HotSwap.Burst <= 0 {
		cfg.HotSwap.Burst = 1
	}
	if cfg.HotSwap.Timeout <= 0 {
		cfg.HotSwap.Timeout = 30 * time.Second
	}
	if cfg.HotSwap.ApprovalTimeout <= 0 {
		cfg.HotSwap.ApprovalTimeout = 2 * time.Second
	}
	if cfg.HotSwap.StopTimeout <= 0 {
		cfg.HotSwap.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nanocore")

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:       cfg,
		factory:   factory,
		bus:       bus,
		consensus: cons,
		metrics:   m,
		logger:    logger,
		domains:   make(map[model.CoreType][]*replicaSlot),
		ctx:       ctx,
		cancel:    cancel,
		swapPool: workerpool.New(workerpool.Config{
			Name:    "hot-swap",
			Workers: cfg.HotSwap.Workers,
			Logger:  logger,
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.HotSwap.MaxPerMinute/60), cfg.HotSwap.Burst),
	}
	mgr.running.Store(true)
	return mgr
}

// InitializeAllCores starts every given domain (all of them when none are
// named), then the aggregate health monitor, then registers one participant
// per replica with consensus.
func (m *Manager) InitializeAllCores(ctx context.Context, types ...model.CoreType) error {
	if len(types) == 0 {
		types = model.AllCoreTypes
	}

	m.logger.Info("Initializing nano-cores",
		zap.Int("domains", len(types)),
		zap.Int("replica_count", m.cfg.ReplicaCount))

	for _, t := range types {
		if err := m.StartDomain(ctx, t); err != nil {
			return err
		}
	}

	m.startMonitor()

	if m.cfg.AutoVote && m.bus != nil && m.relayActive.CompareAndSwap(false, true) {
		if err := m.bus.SubscribeEvents(fabric.TopicConsensusProposals, m.relayProposal); err != nil {
			m.relayActive.Store(false)
			return errors.TransportFailure(fabric.TopicConsensusProposals, err)
		}
	}

	m.consensus.OnFailureThreshold(m.handleReplicaFailure)
	m.registerParticipants()

	m.logger.Info("Nano-cores initialized", zap.Int("instances", len(m.allSlots())))
	return nil
}

// StartDomain creates and initializes replica_count replicas of coreType
// sequentially and starts one supervising loop per replica. Any
// initialization failure aborts the start and shuts down the replicas
// already built.
func (m *Manager) StartDomain(ctx context.Context, coreType model.CoreType) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if !m.running.Load() {
		return errors.ShuttingDown("orchestrator is shut down")
	}
	m.mu.RLock()
	_, exists := m.domains[coreType]
	m.mu.RUnlock()
	if exists {
		return errors.DomainAlreadyStarted(string(coreType))
	}

	slots := make([]*replicaSlot, 0, m.cfg.ReplicaCount)
	for i := 0; i < m.cfg.ReplicaCount; i++ {
		core, err := m.factory.Create(coreType, i)
		if err != nil {
			m.abortStart(ctx, slots)
			return errors.InitializationFailure(string(coreType), fmt.Sprintf("#%d", i), err)
		}
		if err := core.Initialize(ctx); err != nil {
			m.abortStart(ctx, append(slots, &replicaSlot{core: core}))
			m.logger.Error("Replica initialization failed",
				zap.String("core_type", string(coreType)),
				zap.String("instance_id", core.InstanceID()),
				zap.Error(err))
			return errors.InitializationFailure(string(coreType), core.InstanceID(), err)
		}
		slots = append(slots, &replicaSlot{
			coreType:    coreType,
			index:       i,
			core:        core,
			participant: NewCoreParticipant(core.InstanceID(), coreType, i, m.bus, m.logger),
		})
	}

	m.mu.Lock()
	m.domains[coreType] = slots
	m.mu.Unlock()

	for _, s := range slots {
		m.wg.Add(1)
		go m.superviseReplica(s)
	}

	if m.registered.Load() {
		for _, s := range slots {
			m.consensus.RegisterParticipant(s.participant)
		}
	}

	m.logger.Info("Domain started",
		zap.String("core_type", string(coreType)),
		zap.Int("replicas", len(slots)))
	return nil
}

func (m *Manager) abortStart(ctx context.Context, slots []*replicaSlot) {
	for _, s := range slots {
		if err := s.core.Shutdown(ctx); err != nil {
			m.logger.Warn("Failed to shut down replica after aborted start",
				zap.String("instance_id", s.core.InstanceID()),
				zap.Error(err))
		}
	}
}

func (m *Manager) registerParticipants() {
	m.registered.Store(true)
	for _, s := range m.allSlots() {
		_, p := s.current()
		if p != nil {
			m.consensus.RegisterParticipant(p)
		}
	}
}

// superviseReplica runs one unit of work on the slot's replica every loop
// interval until shutdown. The slot may be re-filled by hot-swap meanwhile.
func (m *Manager) superviseReplica(slot *replicaSlot) {
	defer m.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}
		if !m.running.Load() {
			return
		}

		slot.mu.Lock()
		core := slot.core
		var err error
		if core != nil {
			err = core.Run(m.ctx)
		}
		slot.mu.Unlock()

		if core != nil && m.ctx.Err() == nil {
			m.metrics.RecordCoreExecution(string(slot.coreType), err)
			if err != nil {
				m.logger.Warn("Replica execution failed",
					zap.String("core_type", string(slot.coreType)),
					zap.Int("index", slot.index),
					zap.String("instance_id", core.InstanceID()),
					zap.Error(err))
				m.requestReplacement(slot, core.InstanceID(), err.Error())
			}
		}

		timer.Reset(m.cfg.LoopInterval)
	}
}

func (m *Manager) relayProposal(evt model.Event) {
	if evt.Source != m.cfg.NodeID || !m.running.Load() {
		return
	}
	var proposal model.Proposal
	if err := json.Unmarshal(evt.Payload, &proposal); err != nil {
		m.logger.Warn("Discarding undecodable proposal", zap.Error(err))
		return
	}
	n, err := m.consensus.SolicitVotes(m.ctx, &proposal)
	if err != nil {
		m.logger.Warn("Failed to solicit votes",
			zap.String("proposal_id", proposal.ID),
			zap.Error(err))
		return
	}
	m.logger.Debug("Solicited local votes",
		zap.String("proposal_id", proposal.ID),
		zap.Int("votes", n))
}

// Decide submits p to consensus and waits for the outcome. Local replicas
// vote through the proposal relay when it is active and directly otherwise.
func (m *Manager) Decide(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error) {
	if m.relayActive.Load() {
		return m.consensus.Decide(ctx, p)
	}
	return m.consensus.DecideWithVotes(ctx, p)
}

// RecommendedQuorum is the quorum size the consensus manager currently suggests
func (m *Manager) RecommendedQuorum() int {
	return m.consensus.RecommendedQuorum()
}

// ProcessCommand routes a command to one replica
func (m *Manager) ProcessCommand(ctx context.Context, coreType model.CoreType, index int, name string, payload []byte) ([]byte, error) {
	slot, err := m.slot(coreType, index)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.core == nil {
		return nil, errors.ShuttingDown("replica is shut down")
	}
	return slot.core.ProcessCommand(ctx, name, payload)
}

// InstanceIDs returns the instance id in each slot of coreType, by index
func (m *Manager) InstanceIDs(coreType model.CoreType) []string {
	m.mu.RLock()
	slots := m.domains[coreType]
	m.mu.RUnlock()

	out := make([]string, 0, len(slots))
	for _, s := range slots {
		core, _ := s.current()
		if core != nil {
			out = append(out, core.InstanceID())
		}
	}
	return out
}

// Participant returns the consensus adapter in a slot
func (m *Manager) Participant(coreType model.CoreType, index int) (*CoreParticipant, error) {
	slot, err := m.slot(coreType, index)
	if err != nil {
		return nil, err
	}
	_, p := slot.current()
	return p, nil
}

// Domains returns the started domains in start-up order
func (m *Manager) Domains() []model.CoreType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CoreType, 0, len(m.domains))
	for _, t := range model.AllCoreTypes {
		if _, ok := m.domains[t]; ok {
			out = append(out, t)
		}
	}
	for t := range m.domains {
		if _, known := model.ParseCoreType(string(t)); !known {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) slot(coreType model.CoreType, index int) (*replicaSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots, ok := m.domains[coreType]
	if !ok {
		return nil, errors.DomainNotFound(string(coreType))
	}
	if index < 0 || index >= len(slots) {
		return nil, errors.ReplicaNotFound(string(coreType), index)
	}
	return slots[index], nil
}

func (m *Manager) allSlots() []*replicaSlot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*replicaSlot
	for _, slots := range m.domains {
		out = append(out, slots...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].coreType != out[j].coreType {
			return out[i].coreType < out[j].coreType
		}
		return out[i].index < out[j].index
	})
	return out
}

// Shutdown stops every supervising loop and the health monitor, then shuts
// down each replica best-effort and clears all instance state. Only the
// first call does anything.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("Shutting down nano-cores")
		// No domain or monitor may start once running is cleared
		m.startMu.Lock()
		m.running.Store(false)
		m.startMu.Unlock()
		m.cancel()
		m.wg.Wait()

		if m.relayActive.Load() {
			if err := m.bus.Unsubscribe(fabric.TopicConsensusProposals); err != nil {
				m.logger.Warn("Failed to unsubscribe vote relay", zap.Error(err))
			}
		}
		if err := m.swapPool.Stop(m.cfg.HotSwap.StopTimeout); err != nil {
			m.logger.Warn("Hot-swap pool did not stop cleanly", zap.Error(err))
		}

		m.mu.Lock()
		domains := m.domains
		m.domains = make(map[model.CoreType][]*replicaSlot)
		m.mu.Unlock()

		failures := 0
		for _, slots := range domains {
			for _, s := range slots {
				s.mu.Lock()
				core, p := s.core, s.participant
				s.core, s.participant = nil, nil
				s.mu.Unlock()

				if p != nil && m.registered.Load() {
					m.consensus.DeregisterParticipant(p.ParticipantID())
				}
				if core == nil {
					continue
				}
				if err := core.Shutdown(ctx); err != nil {
					failures++
					m.logger.Warn("Replica shutdown failed",
						zap.String("core_type", string(s.coreType)),
						zap.String("instance_id", core.InstanceID()),
						zap.Error(err))
				}
			}
		}

		m.logger.Info("Nano-cores shut down", zap.Int("shutdown_failures", failures))
	})
	return nil
}
