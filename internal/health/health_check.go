package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// ServiceName is the gRPC health service name reported for a domain
func ServiceName(coreType model.CoreType) string {
	return "saai.nanocore." + string(coreType)
}

// Pinger is anything readiness should ping, such as the result store
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	NodeID    string                 `json:"node_id"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// HealthChecker turns orchestrator health snapshots into liveness and
// readiness answers, and mirrors them into a gRPC health server.
type HealthChecker struct {
	nodeID string
	store  Pinger
	grpc   *health.Server
	logger *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	checks      map[string]CheckResult
	readinessOK bool
}

// NewHealthChecker creates a checker. store and grpcServer may be nil.
func NewHealthChecker(nodeID string, store Pinger, grpcServer *health.Server, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthChecker{
		nodeID: nodeID,
		store:  store,
		grpc:   grpcServer,
		logger: logger.Named("health"),
		checks: make(map[string]CheckResult),
	}
	h.setServing("", false)
	return h
}

// Observe evaluates a snapshot. It is registered as an orchestrator health listener.
func (h *HealthChecker) Observe(snapshot model.SystemHealth) {
	now := time.Now()
	results := []CheckResult{
		checkConsensus(snapshot.ConsensusHealth, now),
		checkFabricLatency(snapshot.FabricLatencyMs, now),
	}
	for _, ct := range model.AllCoreTypes {
		cores, ok := snapshot.Cores[ct]
		if !ok {
			continue
		}
		results = append(results, checkDomain(ct, cores, now))
	}

	ready := snapshot.OverallState != model.CoreStateShutdown
	checks := make(map[string]CheckResult, len(results))
	for _, r := range results {
		checks[r.Name] = r
		if r.Status == StatusCritical {
			ready = false
		}
	}

	h.mu.Lock()
	h.lastCheck = now
	h.checks = checks
	h.readinessOK = ready
	h.mu.Unlock()

	h.setServing("", ready)
	for _, ct := range model.AllCoreTypes {
		if r, ok := checks["domain."+string(ct)]; ok {
			h.setServing(ServiceName(ct), r.Status != StatusCritical)
		}
	}

	h.logger.Debug("Health check completed",
		zap.String("overall_state", string(snapshot.OverallState)),
		zap.Bool("readiness", ready))
}

// Shutdown marks every service as not serving
func (h *HealthChecker) Shutdown() {
	h.mu.Lock()
	h.readinessOK = false
	h.mu.Unlock()
	if h.grpc != nil {
		h.grpc.Shutdown()
	}
}

// Ready reports readiness and the checks behind it, including a store ping
func (h *HealthChecker) Ready(ctx context.Context) (bool, HealthStatus) {
	h.mu.RLock()
	ready := h.readinessOK
	checks := make(map[string]CheckResult, len(h.checks)+1)
	for k, v := range h.checks {
		checks[k] = v
	}
	observed := !h.lastCheck.IsZero()
	h.mu.RUnlock()

	if !observed {
		checks["monitor"] = CheckResult{
			Name:      "monitor",
			Status:    StatusCritical,
			Message:   "No health snapshot observed yet",
			Timestamp: time.Now(),
		}
	}

	if h.store != nil {
		r := CheckResult{Name: "result_store", Status: StatusHealthy, Message: "reachable", Timestamp: time.Now()}
		if err := h.store.Ping(ctx); err != nil {
			r.Status = StatusCritical
			r.Message = fmt.Sprintf("ping failed: %v", err)
			ready = false
		}
		checks[r.Name] = r
	}

	status := HealthStatus{
		NodeID:    h.nodeID,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
		Status:    "not_ready",
	}
	if ready {
		status.Status = "ready"
	}
	return ready, status
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		NodeID:    h.nodeID,
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, status := h.Ready(ctx)

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) setServing(service string, ok bool) {
	if h.grpc == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.grpc.SetServingStatus(service, st)
}

func checkConsensus(ratio float64, now time.Time) CheckResult {
	r := CheckResult{Name: "consensus", Timestamp: now, Message: fmt.Sprintf("%.0f%% of replicas healthy", ratio*100)}
	switch {
	case ratio > 0.8:
		r.Status = StatusHealthy
	case ratio > 0.5:
		r.Status = StatusWarning
	default:
		r.Status = StatusCritical
	}
	return r
}

func checkFabricLatency(ms float64, now time.Time) CheckResult {
	r := CheckResult{Name: "fabric_latency", Timestamp: now, Message: fmt.Sprintf("average publish latency %.2fms", ms)}
	if ms < 10 {
		r.Status = StatusHealthy
	} else {
		r.Status = StatusWarning
	}
	return r
}

// checkDomain is critical when no replica of the domain is running
func checkDomain(ct model.CoreType, cores []model.CoreHealth, now time.Time) CheckResult {
	counts := make(map[model.CoreState]int)
	for _, c := range cores {
		counts[c.State]++
	}
	running := counts[model.CoreStateRunning]

	r := CheckResult{Name: "domain." + string(ct), Timestamp: now}
	switch {
	case len(cores) > 0 && running == len(cores):
		r.Status = StatusHealthy
	case running > 0:
		r.Status = StatusWarning
	default:
		r.Status = StatusCritical
	}
	r.Message = fmt.Sprintf("%d/%d replicas running%s", running, len(cores), describe(counts))
	return r
}

func describe(counts map[model.CoreState]int) string {
	states := make([]string, 0, len(counts))
	for st := range counts {
		if st != model.CoreStateRunning {
			states = append(states, string(st))
		}
	}
	if len(states) == 0 {
		return ""
	}
	sort.Strings(states)
	out := " ("
	for i, st := range states {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %d", st, counts[model.CoreState(st)])
	}
	return out + ")"
}
