package model

import "time"

// CoreType names a functional domain run as redundant replicas
type CoreType string

const (
	CoreTypeOS       CoreType = "os"
	CoreTypeHardware CoreType = "hardware"
	CoreTypeNetwork  CoreType = "network"
	CoreTypeSecurity CoreType = "security"
)

// AllCoreTypes lists every domain in start-up order
var AllCoreTypes = []CoreType{CoreTypeOS, CoreTypeHardware, CoreTypeNetwork, CoreTypeSecurity}

// ParseCoreType converts a domain name into a CoreType
func ParseCoreType(s string) (CoreType, bool) {
	for _, t := range AllCoreTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// CoreState is the lifecycle state a replica reports about itself
type CoreState string

const (
	CoreStateInitializing CoreState = "initializing"
	CoreStateRunning      CoreState = "running"
	CoreStateDegraded     CoreState = "degraded"
	CoreStateFailed       CoreState = "failed"
	CoreStateShutdown     CoreState = "shutdown"
)

// CoreHealth is a per-replica health snapshot
type CoreHealth struct {
	CoreType      CoreType  `json:"core_type"`
	InstanceID    string    `json:"instance_id"`
	State         CoreState `json:"state"`
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ErrorCount    uint64    `json:"error_count"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
}

// SystemHealth is the aggregate snapshot computed on every monitoring tick
type SystemHealth struct {
	Cores           map[CoreType][]CoreHealth `json:"cores"`
	OverallState    CoreState                 `json:"overall_state"`
	ConsensusHealth float64                   `json:"consensus_health"`
	FabricLatencyMs float64                   `json:"fabric_latency_ms"`
	Timestamp       time.Time                 `json:"timestamp"`
}

// IsHealthy reports whether the node is running with a healthy quorum and a fast fabric
func (h SystemHealth) IsHealthy() bool {
	return h.OverallState == CoreStateRunning &&
		h.ConsensusHealth > 0.8 &&
		h.FabricLatencyMs < 10.0
}

// InstanceCount returns the number of replica snapshots across all domains
func (h SystemHealth) InstanceCount() int {
	n := 0
	for _, cores := range h.Cores {
		n += len(cores)
	}
	return n
}
