package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// Config holds consensus manager configuration
type Config struct {
	NodeID              string
	ReplicaCount        int
	VoteTimeout         time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	FailureThreshold    uint32
	ByzantineTolerance  float64
	OutcomeCacheSize    int
	MaxConcurrentVotes  int
}

// DefaultConfig returns the stock consensus settings
func DefaultConfig() *Config {
	return &Config{
		NodeID:              "saai-node",
		ReplicaCount:        3,
		VoteTimeout:         1000 * time.Millisecond,
		HealthCheckInterval: 5000 * time.Millisecond,
		HealthCheckTimeout:  2 * time.Second,
		FailureThreshold:    3,
		ByzantineTolerance:  0.33,
		OutcomeCacheSize:    1024,
		MaxConcurrentVotes:  16,
	}
}

// ConfigFrom builds consensus settings from the node configuration
func ConfigFrom(cfg *config.Config) *Config {
	cc := cfg.Consensus
	out := DefaultConfig()
	out.NodeID = cfg.Server.NodeID
	out.ReplicaCount = cc.ReplicaCount
	out.VoteTimeout = cc.VoteTimeout()
	out.HealthCheckInterval = cc.HealthCheckInterval()
	out.FailureThreshold = cc.FailureThreshold
	out.ByzantineTolerance = cc.ByzantineTolerance
	out.OutcomeCacheSize = cc.OutcomeCacheSize
	out.MaxConcurrentVotes = cc.MaxConcurrentVotes
	return out
}

// scheduleFunc runs f after d and returns a function that cancels it
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func timerSchedule(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type activeProposal struct {
	proposal *model.Proposal
	votes    []model.Vote
	stop     func() bool
	waiters  []chan *model.ConsensusResult
}

// Manager owns proposal and vote state, the replica health registry and
// the timers that expire proposals which never reach quorum.
type Manager struct {
	cfg       *Config
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	participantsMu sync.RWMutex
	participants   map[string]Participant

	replicasMu sync.RWMutex
	replicas   map[string]*model.ReplicaInfo

	// proposalsMu guards proposals and the votes recorded on them. Resolution
	// and expiry both check-and-remove under its write lock.
	proposalsMu sync.RWMutex
	proposals   map[string]*activeProposal

	outcomes *outcomeCache
	schedule scheduleFunc
	now      func() time.Time

	hookMu      sync.RWMutex
	failureHook func(replicaID string)

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewManager creates a consensus manager. publisher may be nil, in which case
// proposals and results are not published anywhere.
func NewManager(cfg *Config, publisher EventPublisher, m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.OutcomeCacheSize <= 0 {
		cfg.OutcomeCacheSize = 1024
	}
	if cfg.MaxConcurrentVotes <= 0 {
		cfg.MaxConcurrentVotes = 16
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes, err := newOutcomeCache(cfg.OutcomeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome cache: %w", err)
	}

	return &Manager{
		cfg:          cfg,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.Named("consensus"),
		participants: make(map[string]Participant),
		replicas:     make(map[string]*model.ReplicaInfo),
		proposals:    make(map[string]*activeProposal),
		outcomes:     outcomes,
		schedule:     timerSchedule,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Config returns the manager configuration
func (m *Manager) Config() *Config {
	return m.cfg
}

// RegisterParticipant adds p to the participant registry and records it as a
// healthy replica. Registering an existing id replaces the previous entry.
func (m *Manager) RegisterParticipant(p Participant) {
	id := p.ParticipantID()
	instanceType := "nano-core"
	if typed, ok := p.(TypedParticipant); ok {
		instanceType = typed.InstanceType()
	}

	m.participantsMu.Lock()
	m.participants[id] = p
	m.participantsMu.Unlock()

	m.replicasMu.Lock()
	m.replicas[id] = &model.ReplicaInfo{
		ID:               id,
		InstanceType:     instanceType,
		State:            model.ReplicaStateHealthy,
		LastHeartbeat:    m.now(),
		VoteWeight:       1.0,
		PerformanceScore: 1.0,
	}
	m.replicasMu.Unlock()

	m.logger.Info("Participant registered",
		zap.String("participant_id", id),
		zap.String("instance_type", instanceType))
	m.updateReplicaMetrics()
}

// DeregisterParticipant removes a participant and its replica record.
// It reports whether the id was registered.
func (m *Manager) DeregisterParticipant(id string) bool {
	m.participantsMu.Lock()
	_, ok := m.participants[id]
	delete(m.participants, id)
	m.participantsMu.Unlock()

	m.replicasMu.Lock()
	delete(m.replicas, id)
	m.replicasMu.Unlock()

	if ok {
		m.logger.Info("Participant deregistered", zap.String("participant_id", id))
		m.updateReplicaMetrics()
	}
	return ok
}

// OnFailureThreshold sets a callback invoked, from the health monitor, when a
// replica's failure count reaches the configured threshold.
func (m *Manager) OnFailureThreshold(fn func(replicaID string)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.failureHook = fn
}

// Propose validates and activates a proposal, publishes it for participant
// discovery and schedules its expiry. Resolution happens asynchronously.
func (m *Manager) Propose(ctx context.Context, p *model.Proposal) (string, error) {
	return m.propose(ctx, p, nil)
}

func (m *Manager) propose(ctx context.Context, p *model.Proposal, waiter chan *model.ConsensusResult) (string, error) {
	if p == nil {
		return "", errors.InvalidProposal("proposal is nil")
	}
	if !p.Type.Valid() {
		return "", errors.InvalidProposal(fmt.Sprintf("unknown proposal type %q", p.Type))
	}
	if p.RequiredVotes < 1 {
		return "", errors.InvalidProposal("required_votes must be at least 1")
	}

	if p.Electorate != "" {
		if eligible := m.healthyIn(p.Electorate); eligible < p.RequiredVotes {
			m.metrics.RecordProposal(string(p.Type), "rejected")
			m.logger.Warn("Proposal rejected, electorate cannot reach quorum",
				zap.String("proposal_type", string(p.Type)),
				zap.String("electorate", p.Electorate),
				zap.Int("eligible", eligible),
				zap.Int("required_votes", p.RequiredVotes))
			return "", errors.InsufficientReplicas(eligible, p.RequiredVotes)
		}
	}

	healthy := m.HealthyCount()
	if healthy < m.cfg.ReplicaCount {
		m.metrics.RecordProposal(string(p.Type), "rejected")
		m.logger.Warn("Proposal rejected, not enough healthy replicas",
			zap.String("proposal_type", string(p.Type)),
			zap.Int("healthy", healthy),
			zap.Int("required", m.cfg.ReplicaCount))
		return "", errors.InsufficientReplicas(healthy, m.cfg.ReplicaCount)
	}

	proposal := *p
	if proposal.ID == "" {
		proposal.ID = uuid.New().String()
	}
	if proposal.Timestamp.IsZero() {
		proposal.Timestamp = m.now()
	}
	id := proposal.ID

	m.proposalsMu.Lock()
	if _, exists := m.proposals[id]; exists {
		m.proposalsMu.Unlock()
		return "", errors.ProposalExists(id)
	}
	ap := &activeProposal{proposal: &proposal}
	if waiter != nil {
		ap.waiters = append(ap.waiters, waiter)
	}
	ap.stop = m.schedule(m.cfg.VoteTimeout, func() { m.expire(id) })
	m.proposals[id] = ap
	active := len(m.proposals)
	m.proposalsMu.Unlock()

	m.metrics.RecordProposal(string(proposal.Type), "accepted")
	m.metrics.SetActiveProposals(active)
	m.logger.Info("Proposal submitted",
		zap.String("proposal_id", id),
		zap.String("proposal_type", string(proposal.Type)),
		zap.String("proposer", proposal.Proposer),
		zap.Int("required_votes", proposal.RequiredVotes))

	// Delivery is best effort; votes can still arrive through SolicitVotes.
	m.publish(context.WithoutCancel(ctx), model.EventTypeConsensusProposal, id, &proposal)

	return id, nil
}

// ProcessVote records a vote and resolves the proposal once it has
// required_votes votes. Votes from replicas that are not healthy are
// discarded without an error.
func (m *Manager) ProcessVote(ctx context.Context, v *model.Vote) error {
	if v == nil {
		return errors.InvalidVote("vote is nil")
	}
	switch v.Decision {
	case model.VoteApprove, model.VoteReject, model.VoteAbstain:
	default:
		return errors.InvalidVote(fmt.Sprintf("unknown decision %q", v.Decision))
	}
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return errors.InvalidVote(fmt.Sprintf("confidence %v outside [0,1]", v.Confidence))
	}

	m.proposalsMu.RLock()
	pending, isActive := m.proposals[v.ProposalID]
	var electorate string
	if isActive {
		electorate = pending.proposal.Electorate
	}
	m.proposalsMu.RUnlock()
	if !isActive {
		return errors.ProposalNotFound(v.ProposalID)
	}

	m.replicasMu.RLock()
	replica, registered := m.replicas[v.VoterID]
	var state model.ReplicaState
	var instanceType string
	if registered {
		state = replica.State
		instanceType = replica.InstanceType
	}
	m.replicasMu.RUnlock()
	if !registered {
		return errors.VoterNotRegistered(v.VoterID)
	}
	if electorate != "" && instanceType != electorate {
		return errors.InvalidVote(fmt.Sprintf("voter %s (%s) is outside the %s electorate",
			v.VoterID, instanceType, electorate))
	}

	if state != model.ReplicaStateHealthy {
		m.metrics.RecordVote(string(v.Decision), false)
		m.logger.Warn("Discarding vote from replica that is not healthy",
			zap.String("proposal_id", v.ProposalID),
			zap.String("voter_id", v.VoterID),
			zap.String("state", string(state)))
		return nil
	}

	vote := *v
	if vote.Timestamp.IsZero() {
		vote.Timestamp = m.now()
	}

	// The tally and removal happen under the same write lock so that exactly
	// one vote triggers resolution and the expiry timer cannot also fire.
	m.proposalsMu.Lock()
	ap, ok := m.proposals[vote.ProposalID]
	if !ok {
		m.proposalsMu.Unlock()
		return errors.ProposalNotFound(vote.ProposalID)
	}
	ap.votes = append(ap.votes, vote)

	var result *model.ConsensusResult
	var waiters []chan *model.ConsensusResult
	if len(ap.votes) >= ap.proposal.RequiredVotes {
		result = Tally(vote.ProposalID, ap.votes, m.now())
		delete(m.proposals, vote.ProposalID)
		if ap.stop != nil {
			ap.stop()
		}
		waiters = ap.waiters
		m.outcomes.resolved(vote.ProposalID, result)
	}
	remaining := len(m.proposals)
	m.proposalsMu.Unlock()

	m.metrics.RecordVote(string(vote.Decision), true)
	m.logger.Debug("Vote recorded",
		zap.String("proposal_id", vote.ProposalID),
		zap.String("voter_id", vote.VoterID),
		zap.String("decision", string(vote.Decision)))

	if result != nil {
		m.metrics.SetActiveProposals(remaining)
		m.metrics.RecordDecision(string(result.Decision), result.ConfidenceScore)
		m.deliver(context.WithoutCancel(ctx), result, waiters)
	}
	return nil
}

// expire drops a proposal that did not reach quorum in time. No result is produced.
func (m *Manager) expire(id string) {
	m.proposalsMu.Lock()
	ap, ok := m.proposals[id]
	if !ok {
		m.proposalsMu.Unlock()
		return
	}
	delete(m.proposals, id)
	m.outcomes.expired(id)
	active := len(m.proposals)
	m.proposalsMu.Unlock()

	for _, w := range ap.waiters {
		close(w)
	}

	m.metrics.RecordExpiration()
	m.metrics.SetActiveProposals(active)
	m.logger.Warn("Proposal expired without quorum",
		zap.String("proposal_id", id),
		zap.Int("votes", len(ap.votes)),
		zap.Int("required_votes", ap.proposal.RequiredVotes))
}

func (m *Manager) deliver(ctx context.Context, result *model.ConsensusResult, waiters []chan *model.ConsensusResult) {
	m.logger.Info("Consensus reached",
		zap.String("proposal_id", result.ProposalID),
		zap.String("decision", string(result.Decision)),
		zap.Float64("confidence", result.ConfidenceScore),
		zap.Int("votes", len(result.ParticipatingReplicas)))

	for _, w := range waiters {
		w <- result
	}

	m.publish(ctx, model.EventTypeConsensusResult, result.ProposalID, result)

	m.participantsMu.RLock()
	participants := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		participants = append(participants, p)
	}
	m.participantsMu.RUnlock()

	for _, p := range participants {
		if err := p.HandleConsensusResult(ctx, result); err != nil {
			m.logger.Warn("Participant failed to handle consensus result",
				zap.String("participant_id", p.ParticipantID()),
				zap.String("proposal_id", result.ProposalID),
				zap.Error(err))
		}
	}
}

func (m *Manager) publish(ctx context.Context, eventType model.EventType, correlationID string, v interface{}) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Failed to encode event payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
		return
	}
	err = m.publisher.PublishEvent(ctx, model.Event{
		Type:          eventType,
		Source:        m.cfg.NodeID,
		Payload:       payload,
		Priority:      model.PriorityHigh,
		CorrelationID: correlationID,
	})
	if err != nil {
		m.logger.Warn("Failed to publish consensus event",
			zap.String("event_type", string(eventType)),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
	}
}

// Decide proposes p and blocks until it is resolved, expires, or ctx is done.
// Votes must be supplied concurrently, e.g. by a subscriber of the proposal topic.
func (m *Manager) Decide(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error) {
	waiter := make(chan *model.ConsensusResult, 1)
	id, err := m.propose(ctx, p, waiter)
	if err != nil {
		return nil, err
	}

	select {
	case result, ok := <-waiter:
		if !ok {
			return nil, errors.ProposalExpired(id)
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DecideWithVotes proposes p, solicits votes from the registered
// participants and waits for the outcome. It is Decide for callers that have
// no proposal-topic subscriber feeding votes back.
func (m *Manager) DecideWithVotes(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error) {
	waiter := make(chan *model.ConsensusResult, 1)
	id, err := m.propose(ctx, p, waiter)
	if err != nil {
		return nil, err
	}

	m.proposalsMu.RLock()
	var proposal model.Proposal
	if ap, ok := m.proposals[id]; ok {
		proposal = *ap.proposal
	}
	m.proposalsMu.RUnlock()

	if proposal.ID != "" {
		if _, err := m.SolicitVotes(ctx, &proposal); err != nil {
			return nil, err
		}
	}

	select {
	case result, ok := <-waiter:
		if !ok {
			return nil, errors.ProposalExpired(id)
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SolicitVotes asks every registered participant in the proposal's
// electorate to vote on it and feeds the votes into ProcessVote. It returns
// how many votes were accepted. Votes arriving after the proposal resolved
// are ignored.
func (m *Manager) SolicitVotes(ctx context.Context, proposal *model.Proposal) (int, error) {
	m.participantsMu.RLock()
	participants := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if proposal.Electorate != "" {
			typed, ok := p.(TypedParticipant)
			if !ok || typed.InstanceType() != proposal.Electorate {
				continue
			}
		}
		participants = append(participants, p)
	}
	m.participantsMu.RUnlock()

	var accepted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentVotes)

	for _, p := range participants {
		p := p
		g.Go(func() error {
			vote, err := p.Vote(gctx, proposal)
			if err != nil {
				m.logger.Warn("Participant failed to vote",
					zap.String("participant_id", p.ParticipantID()),
					zap.String("proposal_id", proposal.ID),
					zap.Error(err))
				return nil
			}
			if err := m.ProcessVote(gctx, vote); err != nil {
				if errors.GetCode(err) != errors.ErrCodeProposalNotFound {
					m.logger.Warn("Vote rejected",
						zap.String("participant_id", p.ParticipantID()),
						zap.String("proposal_id", proposal.ID),
						zap.Error(err))
				}
				return nil
			}
			atomic.AddInt64(&accepted, 1)
			return nil
		})
	}

	err := g.Wait()
	return int(accepted), err
}

// ProposalStatus reports whether a proposal is pending, resolved (with its
// result) or expired. Finished proposals are remembered in a bounded cache.
func (m *Manager) ProposalStatus(id string) (model.ProposalStatus, *model.ConsensusResult) {
	m.proposalsMu.RLock()
	_, pending := m.proposals[id]
	m.proposalsMu.RUnlock()
	if pending {
		return model.ProposalStatusPending, nil
	}

	if o, ok := m.outcomes.get(id); ok {
		return o.status, o.result
	}
	return model.ProposalStatusUnknown, nil
}

// ActiveProposals returns copies of every proposal awaiting quorum
func (m *Manager) ActiveProposals() []model.Proposal {
	m.proposalsMu.RLock()
	defer m.proposalsMu.RUnlock()

	out := make([]model.Proposal, 0, len(m.proposals))
	for _, ap := range m.proposals {
		out = append(out, *ap.proposal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Replicas returns copies of all replica records ordered by id
func (m *Manager) Replicas() []model.ReplicaInfo {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()

	out := make([]model.ReplicaInfo, 0, len(m.replicas))
	for _, r := range m.replicas {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replica returns a copy of one replica record
func (m *Manager) Replica(id string) (model.ReplicaInfo, bool) {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()

	r, ok := m.replicas[id]
	if !ok {
		return model.ReplicaInfo{}, false
	}
	return *r, true
}

// HealthyCount returns the number of replicas in the healthy state
func (m *Manager) HealthyCount() int {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()

	n := 0
	for _, r := range m.replicas {
		if r.State == model.ReplicaStateHealthy {
			n++
		}
	}
	return n
}

func (m *Manager) healthyIn(instanceType string) int {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()

	n := 0
	for _, r := range m.replicas {
		if r.InstanceType == instanceType && r.State == model.ReplicaStateHealthy {
			n++
		}
	}
	return n
}

// HealthRatio returns the fraction of registered replicas that are healthy
func (m *Manager) HealthRatio() float64 {
	m.replicasMu.RLock()
	total := len(m.replicas)
	m.replicasMu.RUnlock()
	if total == 0 {
		return 0
	}
	return float64(m.HealthyCount()) / float64(total)
}

// RecommendedQuorum sizes required_votes so that the configured byzantine
// fraction of the healthy replicas can be missing or faulty.
func (m *Manager) RecommendedQuorum() int {
	healthy := m.HealthyCount()
	q := healthy - int(math.Floor(float64(healthy)*m.cfg.ByzantineTolerance))
	if q < 1 {
		return 1
	}
	return q
}

// Start launches the periodic health monitor
func (m *Manager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.healthMonitorLoop(ctx)

	m.logger.Info("Consensus manager started",
		zap.Int("replica_count", m.cfg.ReplicaCount),
		zap.Duration("vote_timeout", m.cfg.VoteTimeout),
		zap.Duration("health_check_interval", m.cfg.HealthCheckInterval))
}

// Stop halts the health monitor and drops every active proposal
func (m *Manager) Stop() {
	m.lifecycleMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.proposalsMu.Lock()
	pending := m.proposals
	m.proposals = make(map[string]*activeProposal)
	m.proposalsMu.Unlock()

	for id, ap := range pending {
		if ap.stop != nil {
			ap.stop()
		}
		m.outcomes.expired(id)
		for _, w := range ap.waiters {
			close(w)
		}
	}
	m.metrics.SetActiveProposals(0)
	m.logger.Info("Consensus manager stopped", zap.Int("dropped_proposals", len(pending)))
}

func (m *Manager) healthMonitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunHealthCheck(ctx)
		}
	}
}

// RunHealthCheck performs one health-monitor tick over every participant
func (m *Manager) RunHealthCheck(ctx context.Context) {
	m.participantsMu.RLock()
	participants := make(map[string]Participant, len(m.participants))
	for id, p := range m.participants {
		participants[id] = p
	}
	m.participantsMu.RUnlock()

	for id, p := range participants {
		hctx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckTimeout)
		score, err := p.HealthCheck(hctx)
		cancel()
		if err != nil {
			err = errors.HealthCheckFailure(id, err)
		}
		m.applyHealth(id, score, err)
	}
	m.updateReplicaMetrics()
}

func (m *Manager) applyHealth(id string, score float64, err error) {
	m.replicasMu.Lock()
	r, ok := m.replicas[id]
	if !ok {
		m.replicasMu.Unlock()
		return
	}
	prev := r.State
	thresholdReached := false
	if err != nil {
		r.FailureCount++
		r.State = model.ReplicaStateFailed
		thresholdReached = r.FailureCount == m.cfg.FailureThreshold
	} else {
		r.PerformanceScore = score
		r.LastHeartbeat = m.now()
		r.State = StateForScore(score)
	}
	next := r.State
	failures := r.FailureCount
	m.replicasMu.Unlock()

	m.metrics.RecordHealthCheck(err == nil)
	if err != nil {
		m.logger.Warn("Replica health check failed",
			zap.String("replica_id", id),
			zap.Uint32("failure_count", failures),
			zap.Error(err))
	}
	if prev != next {
		m.logger.Info("Replica state changed",
			zap.String("replica_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Float64("score", score))
	}

	if thresholdReached {
		m.hookMu.RLock()
		hook := m.failureHook
		m.hookMu.RUnlock()
		if hook != nil {
			hook(id)
		}
	}
}

func (m *Manager) updateReplicaMetrics() {
	if m.metrics == nil {
		return
	}
	m.replicasMu.RLock()
	counts := make(map[string]int)
	for _, r := range m.replicas {
		counts[string(r.State)]++
	}
	m.replicasMu.RUnlock()
	m.metrics.UpdateReplicaStates(counts)
}
