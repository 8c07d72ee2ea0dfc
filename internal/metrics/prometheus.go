package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "saai"

// Metrics holds all Prometheus metrics for a SAAI node
type Metrics struct {
	// Consensus metrics
	ProposalsTotal     *prometheus.CounterVec
	VotesTotal         *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	ProposalsExpired   prometheus.Counter
	ProposalsActive    prometheus.Gauge
	ReplicasByState    *prometheus.GaugeVec
	DecisionConfidence prometheus.Histogram
	HealthChecksTotal  *prometheus.CounterVec

	// Nano-core metrics
	CoreExecutionsTotal  *prometheus.CounterVec
	CoreExecutionErrors  *prometheus.CounterVec
	CoreInstances        *prometheus.GaugeVec
	HotSwapsTotal        *prometheus.CounterVec
	HotSwapDuration      prometheus.Histogram
	SystemHealthState    *prometheus.GaugeVec
	ConsensusHealthRatio prometheus.Gauge

	// Fabric metrics
	FabricEventsTotal    *prometheus.CounterVec
	FabricErrorsTotal    *prometheus.CounterVec
	FabricPublishLatency prometheus.Histogram

	// Gossip metrics
	GossipMembersTotal   prometheus.Gauge
	GossipMembersHealthy prometheus.Gauge

	// Admin API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on reg.
// A nil reg registers on the default registry.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		ProposalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "proposals_total",
			Help:        "Total number of consensus proposals by type and outcome",
			ConstLabels: labels,
		}, []string{"proposal_type", "status"}),
		VotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "votes_total",
			Help:        "Total number of votes by decision and whether they were counted",
			ConstLabels: labels,
		}, []string{"decision", "status"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "decisions_total",
			Help:        "Total number of resolved proposals by winning decision",
			ConstLabels: labels,
		}, []string{"decision"}),
		ProposalsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "proposals_expired_total",
			Help:        "Total number of proposals that timed out without quorum",
			ConstLabels: labels,
		}),
		ProposalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "proposals_active",
			Help:        "Number of proposals awaiting quorum",
			ConstLabels: labels,
		}),
		ReplicasByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "replicas",
			Help:        "Number of registered replicas by health state",
			ConstLabels: labels,
		}, []string{"state"}),
		DecisionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "decision_confidence",
			Help:        "Mean vote confidence of resolved proposals",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		HealthChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consensus",
			Name:        "health_checks_total",
			Help:        "Total number of participant health checks by result",
			ConstLabels: labels,
		}, []string{"result"}),

		CoreExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "executions_total",
			Help:        "Total number of replica run() iterations",
			ConstLabels: labels,
		}, []string{"core_type"}),
		CoreExecutionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "execution_errors_total",
			Help:        "Total number of failed replica run() iterations",
			ConstLabels: labels,
		}, []string{"core_type"}),
		CoreInstances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "instances",
			Help:        "Number of replica instances by domain and reported state",
			ConstLabels: labels,
		}, []string{"core_type", "state"}),
		HotSwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "hot_swaps_total",
			Help:        "Total number of replica replacements by domain and outcome",
			ConstLabels: labels,
		}, []string{"core_type", "status"}),
		HotSwapDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "hot_swap_duration_seconds",
			Help:        "Time taken to replace a failed replica",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SystemHealthState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "system_health_state",
			Help:        "1 for the current overall system state, 0 otherwise",
			ConstLabels: labels,
		}, []string{"state"}),
		ConsensusHealthRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "nanocore",
			Name:        "consensus_health_ratio",
			Help:        "Fraction of registered replicas in the healthy state",
			ConstLabels: labels,
		}),

		FabricEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fabric",
			Name:        "events_total",
			Help:        "Total number of events published by type",
			ConstLabels: labels,
		}, []string{"event_type"}),
		FabricErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fabric",
			Name:        "errors_total",
			Help:        "Total number of fabric publish or subscribe failures",
			ConstLabels: labels,
		}, []string{"operation"}),
		FabricPublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "fabric",
			Name:        "publish_latency_seconds",
			Help:        "Latency of fabric publish calls",
			ConstLabels: labels,
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members_total",
			Help:        "Total number of cluster members",
			ConstLabels: labels,
		}),
		GossipMembersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members_healthy",
			Help:        "Number of cluster members reporting a running state",
			ConstLabels: labels,
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of admin API requests",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Admin API request latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Heap memory in use",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "goroutines",
			Help:        "Number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordProposal records a proposal submission attempt
func (m *Metrics) RecordProposal(proposalType, status string) {
	if m == nil {
		return
	}
	m.ProposalsTotal.WithLabelValues(proposalType, status).Inc()
}

// RecordVote records a vote that was counted or discarded
func (m *Metrics) RecordVote(decision string, counted bool) {
	if m == nil {
		return
	}
	status := "counted"
	if !counted {
		status = "discarded"
	}
	m.VotesTotal.WithLabelValues(decision, status).Inc()
}

// RecordDecision records a resolved proposal
func (m *Metrics) RecordDecision(decision string, confidence float64) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(decision).Inc()
	m.DecisionConfidence.Observe(confidence)
}

// RecordExpiration records a proposal timing out
func (m *Metrics) RecordExpiration() {
	if m == nil {
		return
	}
	m.ProposalsExpired.Inc()
}

// SetActiveProposals updates the active proposal gauge
func (m *Metrics) SetActiveProposals(n int) {
	if m == nil {
		return
	}
	m.ProposalsActive.Set(float64(n))
}

// UpdateReplicaStates replaces the per-state replica counts
func (m *Metrics) UpdateReplicaStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.ReplicasByState.Reset()
	for state, n := range counts {
		m.ReplicasByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordHealthCheck records a participant health check
func (m *Metrics) RecordHealthCheck(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	m.HealthChecksTotal.WithLabelValues(result).Inc()
}

// RecordCoreExecution records one run() iteration of a replica
func (m *Metrics) RecordCoreExecution(coreType string, err error) {
	if m == nil {
		return
	}
	m.CoreExecutionsTotal.WithLabelValues(coreType).Inc()
	if err != nil {
		m.CoreExecutionErrors.WithLabelValues(coreType).Inc()
	}
}

// RecordHotSwap records a replica replacement attempt
func (m *Metrics) RecordHotSwap(coreType, status string, duration float64) {
	if m == nil {
		return
	}
	m.HotSwapsTotal.WithLabelValues(coreType, status).Inc()
	m.HotSwapDuration.Observe(duration)
}

// UpdateSystemHealth publishes the aggregate health snapshot
func (m *Metrics) UpdateSystemHealth(overall string, consensusHealth float64, instances map[[2]string]int) {
	if m == nil {
		return
	}
	m.SystemHealthState.Reset()
	m.SystemHealthState.WithLabelValues(overall).Set(1)
	m.ConsensusHealthRatio.Set(consensusHealth)
	m.CoreInstances.Reset()
	for key, n := range instances {
		m.CoreInstances.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

// RecordFabricEvent records a published event
func (m *Metrics) RecordFabricEvent(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.FabricEventsTotal.WithLabelValues(eventType).Inc()
	m.FabricPublishLatency.Observe(seconds)
}

// RecordFabricError records a transport failure
func (m *Metrics) RecordFabricError(operation string) {
	if m == nil {
		return
	}
	m.FabricErrorsTotal.WithLabelValues(operation).Inc()
}

// UpdateGossipStats updates gossip statistics
func (m *Metrics) UpdateGossipStats(totalMembers, healthyMembers int) {
	if m == nil {
		return
	}
	m.GossipMembersTotal.Set(float64(totalMembers))
	m.GossipMembersHealthy.Set(float64(healthyMembers))
}

// RecordHTTPRequest records one admin API request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// UpdateSystemStats updates process-level statistics
func (m *Metrics) UpdateSystemStats(memoryUsage uint64, goroutines int) {
	if m == nil {
		return
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
