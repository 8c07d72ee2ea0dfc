package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/handler"
	"github.com/Alfredo-rv/SAAI/internal/health"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/service"
	"github.com/Alfredo-rv/SAAI/internal/store"
)

// MockConsensus is a mock implementation of handler.ConsensusAPI
type MockConsensus struct {
	mock.Mock
}

func (m *MockConsensus) Propose(ctx context.Context, p *model.Proposal) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockConsensus) ProcessVote(ctx context.Context, v *model.Vote) error {
	return m.Called(ctx, v).Error(0)
}

func (m *MockConsensus) ProposalStatus(id string) (model.ProposalStatus, *model.ConsensusResult) {
	args := m.Called(id)
	result, _ := args.Get(1).(*model.ConsensusResult)
	return args.Get(0).(model.ProposalStatus), result
}

func (m *MockConsensus) ActiveProposals() []model.Proposal {
	return m.Called().Get(0).([]model.Proposal)
}

func (m *MockConsensus) Replicas() []model.ReplicaInfo {
	return m.Called().Get(0).([]model.ReplicaInfo)
}

func (m *MockConsensus) RecommendedQuorum() int {
	return m.Called().Int(0)
}

func (m *MockConsensus) HealthRatio() float64 {
	return m.Called().Get(0).(float64)
}

// MockOrchestrator is a mock implementation of handler.Orchestrator
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) GetHealthStatus(ctx context.Context) model.SystemHealth {
	return m.Called(ctx).Get(0).(model.SystemHealth)
}

func (m *MockOrchestrator) ProcessCommand(ctx context.Context, coreType model.CoreType, index int, name string, payload []byte) ([]byte, error) {
	args := m.Called(ctx, coreType, index, name, payload)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *MockOrchestrator) Decide(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error) {
	args := m.Called(ctx, p)
	result, _ := args.Get(0).(*model.ConsensusResult)
	return result, args.Error(1)
}

// MockGovernance is a mock implementation of handler.Governance
type MockGovernance struct {
	mock.Mock
}

func (m *MockGovernance) ProposeConfigChange(ctx context.Context, changes map[string]any, reason string) (*service.Outcome, error) {
	args := m.Called(ctx, changes, reason)
	out, _ := args.Get(0).(*service.Outcome)
	return out, args.Error(1)
}

func (m *MockGovernance) ProposeMutation(ctx context.Context, mutation service.Mutation) (*service.Outcome, error) {
	args := m.Called(ctx, mutation)
	out, _ := args.Get(0).(*service.Outcome)
	return out, args.Error(1)
}

func (m *MockGovernance) ProposeSecurityAction(ctx context.Context, action service.SecurityAction) (*service.Outcome, error) {
	args := m.Called(ctx, action)
	out, _ := args.Get(0).(*service.Outcome)
	return out, args.Error(1)
}

type staticStats struct{ stats fabric.Statistics }

func (s staticStats) Statistics() fabric.Statistics { return s.stats }

type testEnv struct {
	server       *Server
	consensus    *MockConsensus
	orchestrator *MockOrchestrator
	governance   *MockGovernance
	results      *store.MemoryResultStore
	configs      *config.Manager
	checker      *health.HealthChecker
	grpcHealth   *grpchealth.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	cfg.RateLimit.Enabled = false
	cfg.Store.Postgres.Password = "s3cret"

	reg := prometheus.NewRegistry()
	env := &testEnv{
		consensus:    &MockConsensus{},
		orchestrator: &MockOrchestrator{},
		governance:   &MockGovernance{},
		results:      store.NewMemoryResultStore(10),
		configs:      config.NewManager(cfg, 4),
		grpcHealth:   grpchealth.NewServer(),
	}
	env.checker = health.NewHealthChecker("node-1", env.results, env.grpcHealth, zap.NewNop())

	env.server = NewServer(cfg, Options{
		Handlers: handler.Dependencies{
			Consensus:    env.consensus,
			Orchestrator: env.orchestrator,
			Governance:   env.governance,
			Config:       env.configs,
			Results:      env.results,
			Fabric:       staticStats{stats: fabric.Statistics{TotalEvents: 3}},
		},
		Health:     env.checker,
		GRPCHealth: env.grpcHealth,
		Metrics:    metrics.NewMetrics("node-1", reg),
		Gatherer:   reg,
	}, zap.NewNop())
	env.server.SetupRoutes()
	return env
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.GetHandler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateProposal_InsufficientReplicas(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("RecommendedQuorum").Return(2)
	env.consensus.On("Propose", mock.Anything, mock.Anything).Return("", errors.InsufficientReplicas(1, 3))

	rec := env.do(http.MethodPost, "/v1/proposals", `{"proposal_type":"health_check","proposer":"api"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INSUFFICIENT_REPLICAS", resp.ErrorCode)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
}

func TestCreateProposal_DefaultsToRecommendedQuorum(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("RecommendedQuorum").Return(2)
	env.consensus.On("Propose", mock.Anything, mock.MatchedBy(func(p *model.Proposal) bool {
		return p.RequiredVotes == 2 && p.Type == model.ProposalTypeHealthCheck && p.ID != ""
	})).Return("p-1", nil)

	rec := env.do(http.MethodPost, "/v1/proposals", `{"proposal_type":"health_check","proposer":"api"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp handler.ProposalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "p-1", resp.ProposalID)
	assert.Equal(t, model.ProposalStatusPending, resp.Status)
	env.consensus.AssertExpectations(t)
}

func TestCreateProposal_Electorate(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("Propose", mock.Anything, mock.MatchedBy(func(p *model.Proposal) bool {
		return p.Electorate == "security" && p.RequiredVotes == 2
	})).Return("s-1", nil)

	rec := env.do(http.MethodPost, "/v1/proposals",
		`{"proposal_type":"security_action","proposer":"api","electorate":"security","required_votes":2}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	env.consensus.AssertExpectations(t)
}

func TestCreateProposal_Wait(t *testing.T) {
	env := newTestEnv(t)
	result := &model.ConsensusResult{
		ProposalID: "p-2",
		Decision:   model.VoteApprove,
		VoteCount:  map[model.VoteDecision]int{model.VoteApprove: 3},
	}
	env.orchestrator.On("Decide", mock.Anything, mock.MatchedBy(func(p *model.Proposal) bool {
		return p.ID == "p-2" && p.RequiredVotes == 3
	})).Return(result, nil)

	rec := env.do(http.MethodPost, "/v1/proposals",
		`{"id":"p-2","proposal_type":"config_change","proposer":"api","required_votes":3,"wait":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.ProposalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ProposalStatusResolved, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, model.VoteApprove, resp.Result.Decision)
}

func TestCreateProposal_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"unknown type", `{"proposal_type":"reboot","proposer":"api"}`, "INVALID_PROPOSAL"},
		{"missing proposer", `{"proposal_type":"health_check"}`, "INVALID_PROPOSAL"},
		{"malformed body", `{"proposal_type":`, "INVALID_ARGUMENT"},
		{"unknown field", `{"proposal_type":"health_check","proposer":"api","extra":1}`, "INVALID_ARGUMENT"},
		{"unknown electorate", `{"proposal_type":"security_action","proposer":"api","electorate":"gpu"}`, "INVALID_PROPOSAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/v1/proposals", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).ErrorCode)
		})
	}
	env.consensus.AssertNotCalled(t, "Propose", mock.Anything, mock.Anything)
}

func TestGetProposal(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("ProposalStatus", "missing").Return(model.ProposalStatusUnknown, nil)
	env.consensus.On("ProposalStatus", "done").Return(model.ProposalStatusResolved,
		&model.ConsensusResult{ProposalID: "done", Decision: model.VoteReject})

	rec := env.do(http.MethodGet, "/v1/proposals/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PROPOSAL_NOT_FOUND", decodeError(t, rec).ErrorCode)

	rec = env.do(http.MethodGet, "/v1/proposals/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.ProposalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ProposalStatusResolved, resp.Status)
	assert.Equal(t, model.VoteReject, resp.Result.Decision)
}

func TestSubmitVote(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("ProcessVote", mock.Anything, mock.MatchedBy(func(v *model.Vote) bool {
		return v.ProposalID == "p-1" && v.VoterID == "os-0"
	})).Return(nil)
	env.consensus.On("ProcessVote", mock.Anything, mock.MatchedBy(func(v *model.Vote) bool {
		return v.VoterID == "stranger"
	})).Return(errors.VoterNotRegistered("stranger"))
	env.consensus.On("ProcessVote", mock.Anything, mock.MatchedBy(func(v *model.Vote) bool {
		return v.ProposalID == "gone"
	})).Return(errors.ProposalNotFound("gone"))
	env.consensus.On("ProposalStatus", "p-1").Return(model.ProposalStatusPending, nil)

	rec := env.do(http.MethodPost, "/v1/proposals/p-1/votes", `{"voter_id":"os-0","decision":"approve","confidence":0.9}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodPost, "/v1/proposals/p-1/votes", `{"voter_id":"stranger","decision":"approve","confidence":0.9}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "VOTER_NOT_REGISTERED", decodeError(t, rec).ErrorCode)

	rec = env.do(http.MethodPost, "/v1/proposals/gone/votes", `{"voter_id":"os-1","decision":"reject","confidence":0.9}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReplicas(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("Replicas").Return([]model.ReplicaInfo{{ID: "os-0", State: model.ReplicaStateHealthy}})
	env.consensus.On("HealthRatio").Return(1.0)
	env.consensus.On("RecommendedQuorum").Return(1)

	rec := env.do(http.MethodGet, "/v1/replicas", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Replicas          []model.ReplicaInfo `json:"replicas"`
		RecommendedQuorum int                 `json:"recommended_quorum"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Replicas, 1)
	assert.Equal(t, "os-0", resp.Replicas[0].ID)
	assert.Equal(t, 1, resp.RecommendedQuorum)
}

func TestListResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.results.Save(ctx, &model.ConsensusResult{ProposalID: "a", Decision: model.VoteApprove, Timestamp: base}))
	require.NoError(t, env.results.Save(ctx, &model.ConsensusResult{ProposalID: "b", Decision: model.VoteReject, Timestamp: base.Add(time.Minute)}))

	rec := env.do(http.MethodGet, "/v1/results?decision=approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []model.ConsensusResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].ProposalID)

	rec = env.do(http.MethodGet, "/v1/results?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/v1/results?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteCommand(t *testing.T) {
	env := newTestEnv(t)
	env.orchestrator.On("ProcessCommand", mock.Anything, model.CoreTypeOS, 0, "get_env", []byte(`{"name":"HOME"}`)).
		Return([]byte(`{"name":"HOME","value":"/root","set":true}`), nil)
	env.orchestrator.On("ProcessCommand", mock.Anything, model.CoreTypeOS, 0, "reboot", mock.Anything).
		Return(nil, errors.UnsupportedCommand("os", "reboot"))
	env.orchestrator.On("ProcessCommand", mock.Anything, model.CoreTypeOS, 9, mock.Anything, mock.Anything).
		Return(nil, errors.ReplicaNotFound("os", 9))

	rec := env.do(http.MethodPost, "/v1/cores/os/0/commands/get_env", `{"name":"HOME"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"HOME","value":"/root","set":true}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/cores/os/0/commands/reboot", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "UNSUPPORTED_COMMAND", decodeError(t, rec).ErrorCode)

	rec = env.do(http.MethodPost, "/v1/cores/os/9/commands/get_env", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/v1/cores/quantum/0/commands/get_env", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DOMAIN_NOT_FOUND", decodeError(t, rec).ErrorCode)
}

func TestGetConfigRedactsSecrets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Contains(t, rec.Body.String(), `"vote_timeout_ms"`)
	assert.Equal(t, "s3cret", env.configs.Current().Store.Postgres.Password)
}

func TestProposeConfigChange(t *testing.T) {
	env := newTestEnv(t)
	env.governance.On("ProposeConfigChange", mock.Anything, map[string]any{"consensus.vote_timeout_ms": float64(1500)}, "tune").
		Return(&service.Outcome{ProposalID: "c-1", Applied: true}, nil)

	rec := env.do(http.MethodPost, "/v1/config/changes", `{"changes":{"consensus.vote_timeout_ms":1500},"reason":"tune"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out service.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Applied)
	assert.Equal(t, "c-1", out.ProposalID)
}

func TestFabricAndClusterEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/fabric/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats fabric.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(3), stats.TotalEvents)

	rec = env.do(http.MethodGet, "/v1/cluster/members", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"members":[]}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).ErrorCode)

	rec = env.do(http.MethodDelete, "/v1/replicas", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).ErrorCode)

	rec = env.do(http.MethodGet, "/v1/proposals/p-1/votes", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).ErrorCode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.consensus.On("Replicas").Return([]model.ReplicaInfo{})
	env.consensus.On("HealthRatio").Return(0.0)
	env.consensus.On("RecommendedQuorum").Return(1)

	rec := env.do(http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.checker.Observe(healthySnapshot())
	rec = env.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(http.MethodGet, "/v1/replicas", "")
	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "saai_http_requests_total"))
}

func TestGRPCHealthService(t *testing.T) {
	env := newTestEnv(t)
	lis := bufconn.Listen(1 << 20)
	go env.server.ServeGRPC(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	env.checker.Observe(healthySnapshot())
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: health.ServiceName(model.CoreTypeOS)})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, env.server.Shutdown(shutdownCtx))
}

func healthySnapshot() model.SystemHealth {
	running := []model.CoreHealth{
		{State: model.CoreStateRunning},
		{State: model.CoreStateRunning},
		{State: model.CoreStateRunning},
	}
	return model.SystemHealth{
		Cores:           map[model.CoreType][]model.CoreHealth{model.CoreTypeOS: running},
		OverallState:    model.CoreStateRunning,
		ConsensusHealth: 1,
		FabricLatencyMs: 0.5,
		Timestamp:       time.Now(),
	}
}

func TestNodeErrorInterceptor(t *testing.T) {
	_, err := nodeErrorInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(context.Context, any) (any, error) {
			return nil, errors.InsufficientReplicas(1, 3)
		})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	plain := assert.AnError
	_, err = nodeErrorInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(context.Context, any) (any, error) { return nil, plain })
	assert.Equal(t, plain, err)
}
