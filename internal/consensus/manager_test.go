package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	saaierrors "github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

type fakeParticipant struct {
	id string

	mu        sync.Mutex
	score     float64
	healthErr error
	decision  model.VoteDecision
	results   []*model.ConsensusResult
}

func newFakeParticipant(id string) *fakeParticipant {
	return &fakeParticipant{id: id, score: 1.0, decision: model.VoteApprove}
}

func (f *fakeParticipant) ParticipantID() string { return f.id }

func (f *fakeParticipant) Vote(_ context.Context, p *model.Proposal) (*model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.Vote{
		ProposalID: p.ID,
		VoterID:    f.id,
		Decision:   f.decision,
		Confidence: f.score*0.9 + 0.1,
		Timestamp:  time.Now(),
	}, nil
}

func (f *fakeParticipant) HealthCheck(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.score, f.healthErr
}

func (f *fakeParticipant) HandleConsensusResult(_ context.Context, r *model.ConsensusResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeParticipant) set(score float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.score = score
	f.healthErr = err
}

func (f *fakeParticipant) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingPublisher) PublishEvent(_ context.Context, evt model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingPublisher) count(t model.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// manualTimers captures scheduled expiries so tests decide when they fire
type manualTimers struct {
	mu     sync.Mutex
	timers []func()
}

func (m *manualTimers) schedule(_ time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, f)
	return func() bool { return true }
}

func (m *manualTimers) fire(i int) {
	m.mu.Lock()
	f := m.timers[i]
	m.mu.Unlock()
	f()
}

func newTestManager(t *testing.T, replicaCount int) (*Manager, *recordingPublisher, *manualTimers) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ReplicaCount = replicaCount
	pub := &recordingPublisher{}
	m, err := NewManager(cfg, pub, metrics.NewMetrics("test", prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, err)
	timers := &manualTimers{}
	m.schedule = timers.schedule
	return m, pub, timers
}

func registerN(m *Manager, n int) []*fakeParticipant {
	out := make([]*fakeParticipant, n)
	for i := range out {
		out[i] = newFakeParticipant(fmt.Sprintf("replica-%d", i))
		m.RegisterParticipant(out[i])
	}
	return out
}

func vote(proposalID, voterID string, d model.VoteDecision) *model.Vote {
	return &model.Vote{ProposalID: proposalID, VoterID: voterID, Decision: d, Confidence: 1.0}
}

func TestManager_RegisterParticipant(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerN(m, 1)

	r, ok := m.Replica("replica-0")
	require.True(t, ok)
	assert.Equal(t, model.ReplicaStateHealthy, r.State)
	assert.Equal(t, 1.0, r.PerformanceScore)
	assert.Equal(t, 1.0, r.VoteWeight)
	assert.Equal(t, "nano-core", r.InstanceType)
	assert.Equal(t, uint32(0), r.FailureCount)
}

func TestManager_ProposeInsufficientReplicas(t *testing.T) {
	m, pub, _ := newTestManager(t, 3)
	registerN(m, 2)

	_, err := m.Propose(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeHealthCheck,
		RequiredVotes: 2,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, saaierrors.ErrInsufficientReplicas))
	assert.Equal(t, 0, pub.count(model.EventTypeConsensusProposal))

	m.RegisterParticipant(newFakeParticipant("replica-2"))
	id, err := m.Propose(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeHealthCheck,
		RequiredVotes: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, pub.count(model.EventTypeConsensusProposal))

	status, _ := m.ProposalStatus(id)
	assert.Equal(t, model.ProposalStatusPending, status)
}

func TestManager_ProposeValidation(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerN(m, 3)

	tests := []struct {
		name     string
		proposal *model.Proposal
	}{
		{"nil", nil},
		{"unknown type", &model.Proposal{Type: "bogus", RequiredVotes: 1}},
		{"zero votes", &model.Proposal{Type: model.ProposalTypeConfigChange, RequiredVotes: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Propose(context.Background(), tt.proposal)
			assert.True(t, errors.Is(err, saaierrors.ErrInvalidProposal))
		})
	}

	_, err := m.Propose(context.Background(), &model.Proposal{ID: "dup", Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	require.NoError(t, err)
	_, err = m.Propose(context.Background(), &model.Proposal{ID: "dup", Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	assert.True(t, errors.Is(err, saaierrors.ErrProposalExists))
}

func TestManager_ProcessVoteErrors(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerN(m, 3)

	err := m.ProcessVote(context.Background(), vote("missing", "replica-0", model.VoteApprove))
	assert.True(t, errors.Is(err, saaierrors.ErrProposalNotFound))

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	require.NoError(t, err)

	err = m.ProcessVote(context.Background(), vote(id, "stranger", model.VoteApprove))
	assert.True(t, errors.Is(err, saaierrors.ErrVoterNotRegistered))

	bad := vote(id, "replica-0", model.VoteApprove)
	bad.Confidence = 1.5
	assert.True(t, errors.Is(m.ProcessVote(context.Background(), bad), saaierrors.ErrInvalidVote))
}

func TestManager_VoteFromDegradedReplicaIsDiscarded(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	parts := registerN(m, 4)
	parts[3].set(0.6, nil)
	m.RunHealthCheck(context.Background())

	r, _ := m.Replica("replica-3")
	require.Equal(t, model.ReplicaStateDegraded, r.State)

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeSystemMutation, RequiredVotes: 2})
	require.NoError(t, err)

	require.NoError(t, m.ProcessVote(context.Background(), vote(id, "replica-3", model.VoteReject)))

	m.proposalsMu.RLock()
	assert.Len(t, m.proposals[id].votes, 0)
	m.proposalsMu.RUnlock()

	require.NoError(t, m.ProcessVote(context.Background(), vote(id, "replica-0", model.VoteApprove)))
	require.NoError(t, m.ProcessVote(context.Background(), vote(id, "replica-1", model.VoteApprove)))

	status, result := m.ProposalStatus(id)
	require.Equal(t, model.ProposalStatusResolved, status)
	assert.Equal(t, model.VoteApprove, result.Decision)
	assert.Equal(t, 0, result.VoteCount[model.VoteReject])
	assert.NotContains(t, result.ParticipatingReplicas, "replica-3")
}

func TestManager_HealthMonitorTransitions(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	parts := registerN(m, 1)
	p := parts[0]

	p.set(0.95, nil)
	m.RunHealthCheck(context.Background())
	r, _ := m.Replica(p.id)
	assert.Equal(t, model.ReplicaStateHealthy, r.State)
	assert.Equal(t, 0.95, r.PerformanceScore)

	p.set(0.6, nil)
	m.RunHealthCheck(context.Background())
	r, _ = m.Replica(p.id)
	assert.Equal(t, model.ReplicaStateDegraded, r.State)

	// A failing check forces Failed even though the score would be healthy.
	p.set(0.99, errors.New("probe timed out"))
	m.RunHealthCheck(context.Background())
	r, _ = m.Replica(p.id)
	assert.Equal(t, model.ReplicaStateFailed, r.State)
	assert.Equal(t, uint32(1), r.FailureCount)
	assert.Equal(t, 0.6, r.PerformanceScore)

	p.set(0.3, nil)
	m.RunHealthCheck(context.Background())
	r, _ = m.Replica(p.id)
	assert.Equal(t, model.ReplicaStateFailed, r.State)
	assert.Equal(t, uint32(1), r.FailureCount)
}

func TestManager_FailureThresholdHook(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	parts := registerN(m, 1)
	parts[0].set(1.0, errors.New("down"))

	var fired []string
	m.OnFailureThreshold(func(id string) { fired = append(fired, id) })

	for i := 0; i < 5; i++ {
		m.RunHealthCheck(context.Background())
	}
	assert.Equal(t, []string{"replica-0"}, fired)
}

func TestManager_ResolutionBeatsTimeout(t *testing.T) {
	m, pub, timers := newTestManager(t, 3)
	parts := registerN(m, 3)

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	require.NoError(t, err)

	for _, p := range parts {
		require.NoError(t, m.ProcessVote(context.Background(), vote(id, p.id, model.VoteApprove)))
	}

	// The timer firing after resolution must be a no-op.
	timers.fire(0)

	status, result := m.ProposalStatus(id)
	assert.Equal(t, model.ProposalStatusResolved, status)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.VoteCount[model.VoteApprove])
	assert.Equal(t, 1, pub.count(model.EventTypeConsensusResult))
	for _, p := range parts {
		assert.Equal(t, 1, p.resultCount())
	}

	err = m.ProcessVote(context.Background(), vote(id, parts[0].id, model.VoteApprove))
	assert.True(t, errors.Is(err, saaierrors.ErrProposalNotFound))
}

func TestManager_TimeoutBeatsResolution(t *testing.T) {
	m, pub, timers := newTestManager(t, 3)
	parts := registerN(m, 3)

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	require.NoError(t, err)
	require.NoError(t, m.ProcessVote(context.Background(), vote(id, parts[0].id, model.VoteApprove)))

	timers.fire(0)

	status, result := m.ProposalStatus(id)
	assert.Equal(t, model.ProposalStatusExpired, status)
	assert.Nil(t, result)

	err = m.ProcessVote(context.Background(), vote(id, parts[1].id, model.VoteApprove))
	assert.True(t, errors.Is(err, saaierrors.ErrProposalNotFound))
	assert.Equal(t, 0, pub.count(model.EventTypeConsensusResult))
	assert.Equal(t, 0, parts[0].resultCount())

	// Firing twice stays silent.
	timers.fire(0)
	assert.Equal(t, 0, pub.count(model.EventTypeConsensusResult))
}

func TestManager_ConcurrentVotesResolveOnce(t *testing.T) {
	m, pub, _ := newTestManager(t, 3)
	parts := registerN(m, 20)

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeSystemMutation, RequiredVotes: 7})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func(p *fakeParticipant) {
			defer wg.Done()
			_ = m.ProcessVote(context.Background(), vote(id, p.id, model.VoteApprove))
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, pub.count(model.EventTypeConsensusResult))
	_, result := m.ProposalStatus(id)
	require.NotNil(t, result)
	assert.Equal(t, 7, result.VoteCount[model.VoteApprove])
	assert.Len(t, result.ParticipatingReplicas, 7)
}

func TestManager_DecideWithSolicitedVotes(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	m.schedule = timerSchedule
	registerN(m, 3)

	proposal := &model.Proposal{
		ID:            "mutation-1",
		Type:          model.ProposalTypeSystemMutation,
		RequiredVotes: 3,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait until Decide has activated the proposal.
		assert.Eventually(t, func() bool {
			status, _ := m.ProposalStatus(proposal.ID)
			return status == model.ProposalStatusPending
		}, time.Second, time.Millisecond)
		n, err := m.SolicitVotes(context.Background(), proposal)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
	}()

	result, err := m.Decide(context.Background(), proposal)
	require.NoError(t, err)
	<-done

	assert.Equal(t, model.VoteApprove, result.Decision)
	assert.Equal(t, 3, result.VoteCount[model.VoteApprove])
	assert.InDelta(t, 1.0, result.ConfidenceScore, 1e-9)
}

func TestManager_DecideWithVotes(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	participants := registerN(m, 3)
	participants[2].decision = model.VoteReject

	result, err := m.DecideWithVotes(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeReplicaReplacement,
		Proposer:      "orchestrator",
		RequiredVotes: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, model.VoteApprove, result.Decision)
	assert.Equal(t, 2, result.VoteCount[model.VoteApprove])
	assert.Equal(t, 1, result.VoteCount[model.VoteReject])
	assert.Empty(t, m.ActiveProposals())
}

type typedParticipant struct {
	*fakeParticipant
	kind string
}

func (p typedParticipant) InstanceType() string { return p.kind }

func registerTyped(m *Manager, kind string, n int, d model.VoteDecision) []typedParticipant {
	out := make([]typedParticipant, n)
	for i := range out {
		f := newFakeParticipant(fmt.Sprintf("%s-%d", kind, i))
		f.decision = d
		out[i] = typedParticipant{fakeParticipant: f, kind: kind}
		m.RegisterParticipant(out[i])
	}
	return out
}

func TestManager_ElectorateRestrictsVoters(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	osVoters := registerTyped(m, "os", 3, model.VoteAbstain)
	security := registerTyped(m, "security", 3, model.VoteApprove)

	result, err := m.DecideWithVotes(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeSecurityAction,
		Proposer:      "governance",
		RequiredVotes: 3,
		Electorate:    "security",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VoteApprove, result.Decision)
	assert.Equal(t, 3, result.VoteCount[model.VoteApprove])
	assert.Equal(t, 0, result.VoteCount[model.VoteAbstain])
	assert.ElementsMatch(t,
		[]string{security[0].id, security[1].id, security[2].id},
		result.ParticipatingReplicas)

	id, err := m.Propose(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeSecurityAction,
		RequiredVotes: 2,
		Electorate:    "security",
	})
	require.NoError(t, err)
	err = m.ProcessVote(context.Background(), vote(id, osVoters[0].id, model.VoteAbstain))
	assert.True(t, errors.Is(err, saaierrors.ErrInvalidVote))
	require.NoError(t, m.ProcessVote(context.Background(), vote(id, security[0].id, model.VoteApprove)))
	status, _ := m.ProposalStatus(id)
	assert.Equal(t, model.ProposalStatusPending, status)
}

func TestManager_ElectorateTooSmall(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerTyped(m, "os", 3, model.VoteApprove)
	security := registerTyped(m, "security", 2, model.VoteApprove)

	_, err := m.Propose(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeSecurityAction,
		RequiredVotes: 3,
		Electorate:    "security",
	})
	assert.True(t, errors.Is(err, saaierrors.ErrInsufficientReplicas))

	m.applyHealth(security[0].id, 0.6, nil)
	_, err = m.Propose(context.Background(), &model.Proposal{
		Type:          model.ProposalTypeSecurityAction,
		RequiredVotes: 2,
		Electorate:    "security",
	})
	assert.True(t, errors.Is(err, saaierrors.ErrInsufficientReplicas))
}

func TestManager_DecideExpires(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	m.schedule = timerSchedule
	m.cfg.VoteTimeout = 20 * time.Millisecond
	registerN(m, 3)

	_, err := m.Decide(context.Background(), &model.Proposal{Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	assert.True(t, errors.Is(err, saaierrors.ErrProposalExpired))
}

func TestManager_RecommendedQuorumAndHealthRatio(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	assert.Equal(t, 1, m.RecommendedQuorum())
	assert.Equal(t, 0.0, m.HealthRatio())

	parts := registerN(m, 12)
	assert.Equal(t, 9, m.RecommendedQuorum())
	assert.Equal(t, 1.0, m.HealthRatio())

	parts[0].set(0.1, nil)
	parts[1].set(0.1, nil)
	parts[2].set(0.1, nil)
	m.RunHealthCheck(context.Background())
	assert.InDelta(t, 0.75, m.HealthRatio(), 1e-9)
	assert.Equal(t, 7, m.RecommendedQuorum())
}

func TestManager_DeregisterParticipant(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerN(m, 3)

	assert.True(t, m.DeregisterParticipant("replica-1"))
	assert.False(t, m.DeregisterParticipant("replica-1"))
	assert.Len(t, m.Replicas(), 2)
	_, ok := m.Replica("replica-1")
	assert.False(t, ok)
}

func TestManager_StopDropsActiveProposals(t *testing.T) {
	m, _, _ := newTestManager(t, 3)
	registerN(m, 3)
	m.Start(context.Background())

	id, err := m.Propose(context.Background(), &model.Proposal{Type: model.ProposalTypeHealthCheck, RequiredVotes: 3})
	require.NoError(t, err)

	m.Stop()

	status, _ := m.ProposalStatus(id)
	assert.Equal(t, model.ProposalStatusExpired, status)
	assert.Empty(t, m.ActiveProposals())
}
