package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all configuration for a SAAI node
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Fabric      FabricConfig      `mapstructure:"fabric" yaml:"fabric" json:"fabric"`
	Consensus   ConsensusConfig   `mapstructure:"consensus" yaml:"consensus" json:"consensus"`
	NanoCores   NanoCoresConfig   `mapstructure:"nano_cores" yaml:"nano_cores" json:"nano_cores"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security" json:"security"`
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance" json:"performance"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store" json:"store"`
	Gossip      GossipConfig      `mapstructure:"gossip" yaml:"gossip" json:"gossip"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging" json:"logging"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// ServerConfig holds the admin HTTP and gRPC listener configuration
type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id" yaml:"node_id" json:"node_id"`
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	HTTPPort        int           `mapstructure:"http_port" yaml:"http_port" json:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port" yaml:"grpc_port" json:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// FabricConfig selects and configures the event bus transport
type FabricConfig struct {
	Transport  string      `mapstructure:"transport" yaml:"transport" json:"transport"`
	BufferSize int         `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
	ZMQ        ZMQConfig   `mapstructure:"zmq" yaml:"zmq" json:"zmq"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`
}

// ZMQConfig holds ZeroMQ PUB/SUB endpoints
type ZMQConfig struct {
	ListenEndpoint   string   `mapstructure:"listen_endpoint" yaml:"listen_endpoint" json:"listen_endpoint"`
	ConnectEndpoints []string `mapstructure:"connect_endpoints" yaml:"connect_endpoints" json:"connect_endpoints"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
}

// ConsensusConfig holds voting and replica health settings
type ConsensusConfig struct {
	ReplicaCount          int     `mapstructure:"replica_count" yaml:"replica_count" json:"replica_count"`
	VoteTimeoutMs         uint64  `mapstructure:"vote_timeout_ms" yaml:"vote_timeout_ms" json:"vote_timeout_ms"`
	HealthCheckIntervalMs uint64  `mapstructure:"health_check_interval_ms" yaml:"health_check_interval_ms" json:"health_check_interval_ms"`
	FailureThreshold      uint32  `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	ByzantineTolerance    float64 `mapstructure:"byzantine_tolerance" yaml:"byzantine_tolerance" json:"byzantine_tolerance"`
	OutcomeCacheSize      int     `mapstructure:"outcome_cache_size" yaml:"outcome_cache_size" json:"outcome_cache_size"`
	MaxConcurrentVotes    int     `mapstructure:"max_concurrent_votes" yaml:"max_concurrent_votes" json:"max_concurrent_votes"`
}

// VoteTimeout returns the vote timeout as a duration
func (c ConsensusConfig) VoteTimeout() time.Duration {
	return time.Duration(c.VoteTimeoutMs) * time.Millisecond
}

// HealthCheckInterval returns the health monitor period as a duration
func (c ConsensusConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// NanoCoresConfig holds orchestration and per-domain settings
type NanoCoresConfig struct {
	LoopIntervalMs    uint64             `mapstructure:"loop_interval_ms" yaml:"loop_interval_ms" json:"loop_interval_ms"`
	MonitorIntervalMs uint64             `mapstructure:"monitor_interval_ms" yaml:"monitor_interval_ms" json:"monitor_interval_ms"`
	AutoVote          bool               `mapstructure:"auto_vote" yaml:"auto_vote" json:"auto_vote"`
	HotSwap           HotSwapConfig      `mapstructure:"hot_swap" yaml:"hot_swap" json:"hot_swap"`
	OSCore            OSCoreConfig       `mapstructure:"os_core" yaml:"os_core" json:"os_core"`
	HardwareCore      HardwareCoreConfig `mapstructure:"hardware_core" yaml:"hardware_core" json:"hardware_core"`
	NetworkCore       NetworkCoreConfig  `mapstructure:"network_core" yaml:"network_core" json:"network_core"`
	SecurityCore      SecurityCoreConfig `mapstructure:"security_core" yaml:"security_core" json:"security_core"`
}

// HotSwapConfig controls replacement of failed replicas
type HotSwapConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequireConsensus  bool    `mapstructure:"require_consensus" yaml:"require_consensus" json:"require_consensus"`
	MaxPerMinute      float64 `mapstructure:"max_per_minute" yaml:"max_per_minute" json:"max_per_minute"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
	Workers           int     `mapstructure:"workers" yaml:"workers" json:"workers"`
	ApprovalTimeoutMs uint64  `mapstructure:"approval_timeout_ms" yaml:"approval_timeout_ms" json:"approval_timeout_ms"`
}

// OSCoreConfig configures the OS domain
type OSCoreConfig struct {
	MonitorIntervalMs uint64         `mapstructure:"monitor_interval_ms" yaml:"monitor_interval_ms" json:"monitor_interval_ms"`
	ProcessWhitelist  []string       `mapstructure:"process_whitelist" yaml:"process_whitelist" json:"process_whitelist"`
	ResourceLimits    ResourceLimits `mapstructure:"resource_limits" yaml:"resource_limits" json:"resource_limits"`
}

// ResourceLimits bounds what the node may consume
type ResourceLimits struct {
	MaxCPUPercent         float64 `mapstructure:"max_cpu_percent" yaml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxMemoryMB           uint64  `mapstructure:"max_memory_mb" yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxFileDescriptors    uint32  `mapstructure:"max_file_descriptors" yaml:"max_file_descriptors" json:"max_file_descriptors"`
	MaxNetworkConnections uint32  `mapstructure:"max_network_connections" yaml:"max_network_connections" json:"max_network_connections"`
}

// HardwareCoreConfig configures the hardware domain alert thresholds
type HardwareCoreConfig struct {
	TemperatureThreshold       float64 `mapstructure:"temperature_threshold" yaml:"temperature_threshold" json:"temperature_threshold"`
	CPUUsageThreshold          float64 `mapstructure:"cpu_usage_threshold" yaml:"cpu_usage_threshold" json:"cpu_usage_threshold"`
	MemoryUsageThreshold       float64 `mapstructure:"memory_usage_threshold" yaml:"memory_usage_threshold" json:"memory_usage_threshold"`
	DiskUsageThreshold         float64 `mapstructure:"disk_usage_threshold" yaml:"disk_usage_threshold" json:"disk_usage_threshold"`
	DiskPath                   string  `mapstructure:"disk_path" yaml:"disk_path" json:"disk_path"`
	EnablePredictiveMonitoring bool    `mapstructure:"enable_predictive_monitoring" yaml:"enable_predictive_monitoring" json:"enable_predictive_monitoring"`
}

// NetworkCoreConfig configures the network domain
type NetworkCoreConfig struct {
	MaxConnections     uint32  `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections"`
	TimeoutMs          uint64  `mapstructure:"timeout_ms" yaml:"timeout_ms" json:"timeout_ms"`
	QoSEnabled         bool    `mapstructure:"qos_enabled" yaml:"qos_enabled" json:"qos_enabled"`
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold" json:"error_rate_threshold"`
}

// SecurityCoreConfig configures the security domain
type SecurityCoreConfig struct {
	SandboxEnabled           bool     `mapstructure:"sandbox_enabled" yaml:"sandbox_enabled" json:"sandbox_enabled"`
	EncryptionAlgorithm      string   `mapstructure:"encryption_algorithm" yaml:"encryption_algorithm" json:"encryption_algorithm"`
	KeyRotationIntervalHours uint64   `mapstructure:"key_rotation_interval_hours" yaml:"key_rotation_interval_hours" json:"key_rotation_interval_hours"`
	ThreatDetectionEnabled   bool     `mapstructure:"threat_detection_enabled" yaml:"threat_detection_enabled" json:"threat_detection_enabled"`
	ProcessBlocklist         []string `mapstructure:"process_blocklist" yaml:"process_blocklist" json:"process_blocklist"`
}

// SecurityConfig holds node-wide security switches
type SecurityConfig struct {
	EnableSandboxing   bool   `mapstructure:"enable_sandboxing" yaml:"enable_sandboxing" json:"enable_sandboxing"`
	EncryptionKeySize  uint32 `mapstructure:"encryption_key_size" yaml:"encryption_key_size" json:"encryption_key_size"`
	AuditLogEnabled    bool   `mapstructure:"audit_log_enabled" yaml:"audit_log_enabled" json:"audit_log_enabled"`
	IntrusionDetection bool   `mapstructure:"intrusion_detection" yaml:"intrusion_detection" json:"intrusion_detection"`
}

// PerformanceConfig holds sizing knobs
type PerformanceConfig struct {
	ThreadPoolSize int    `mapstructure:"thread_pool_size" yaml:"thread_pool_size" json:"thread_pool_size"`
	WorkerThreads  int    `mapstructure:"worker_threads" yaml:"worker_threads" json:"worker_threads"`
	GCIntervalMs   uint64 `mapstructure:"gc_interval_ms" yaml:"gc_interval_ms" json:"gc_interval_ms"`
	CacheSizeMB    uint64 `mapstructure:"cache_size_mb" yaml:"cache_size_mb" json:"cache_size_mb"`
}

// StoreConfig selects where consensus results are archived
type StoreConfig struct {
	Driver         string         `mapstructure:"driver" yaml:"driver" json:"driver"`
	MemoryCapacity int            `mapstructure:"memory_capacity" yaml:"memory_capacity" json:"memory_capacity"`
	Postgres       PostgresConfig `mapstructure:"postgres" yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`
	User     string `mapstructure:"user" yaml:"user" json:"user"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode" json:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" json:"max_conns"`
}

// ConnString builds a PostgreSQL connection URL
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode, p.MaxConns)
}

// GossipConfig holds memberlist configuration
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	BindAddr       string        `mapstructure:"bind_addr" yaml:"bind_addr" json:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port" yaml:"bind_port" json:"bind_port"`
	Seeds          []string      `mapstructure:"seeds" yaml:"seeds" json:"seeds"`
	GossipInterval time.Duration `mapstructure:"gossip_interval" yaml:"gossip_interval" json:"gossip_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" yaml:"probe_interval" json:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" json:"probe_timeout"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path                string        `mapstructure:"path" yaml:"path" json:"path"`
	SystemStatsInterval time.Duration `mapstructure:"system_stats_interval" yaml:"system_stats_interval" json:"system_stats_interval"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// RateLimitConfig holds admin API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size" json:"burst_size"`
	MaxClients        int     `mapstructure:"max_clients" yaml:"max_clients" json:"max_clients"`
}

var validTransports = map[string]bool{"memory": true, "zmq": true, "redis": true}
var validStoreDrivers = map[string]bool{"memory": true, "postgres": true}

// Validate checks the configuration for values the node cannot run with
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return errors.New("server.http_port must be between 1 and 65535")
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return errors.New("server.grpc_port must be between 1 and 65535")
	}

	if !validTransports[c.Fabric.Transport] {
		return fmt.Errorf("fabric.transport must be one of: memory, zmq, redis (got %q)", c.Fabric.Transport)
	}
	if c.Fabric.Transport == "zmq" && c.Fabric.ZMQ.ListenEndpoint == "" {
		return errors.New("fabric.zmq.listen_endpoint is required for the zmq transport")
	}
	if c.Fabric.Transport == "redis" && c.Fabric.Redis.Host == "" {
		return errors.New("fabric.redis.host is required for the redis transport")
	}

	if c.Consensus.ReplicaCount < 3 {
		return errors.New("consensus.replica_count must be at least 3")
	}
	if c.Consensus.ByzantineTolerance <= 0 || c.Consensus.ByzantineTolerance >= 0.5 {
		return errors.New("consensus.byzantine_tolerance must be between 0 and 0.5 (exclusive)")
	}
	if c.Consensus.VoteTimeoutMs == 0 {
		return errors.New("consensus.vote_timeout_ms must be positive")
	}
	if c.Consensus.HealthCheckIntervalMs == 0 {
		return errors.New("consensus.health_check_interval_ms must be positive")
	}
	if c.Consensus.FailureThreshold == 0 {
		return errors.New("consensus.failure_threshold must be positive")
	}

	if c.NanoCores.LoopIntervalMs == 0 {
		return errors.New("nano_cores.loop_interval_ms must be positive")
	}
	if c.NanoCores.MonitorIntervalMs == 0 {
		return errors.New("nano_cores.monitor_interval_ms must be positive")
	}
	if c.NanoCores.HotSwap.Enabled && c.NanoCores.HotSwap.MaxPerMinute <= 0 {
		return errors.New("nano_cores.hot_swap.max_per_minute must be positive when hot swap is enabled")
	}

	limits := c.NanoCores.OSCore.ResourceLimits
	if limits.MaxCPUPercent <= 0 || limits.MaxCPUPercent > 100 {
		return errors.New("nano_cores.os_core.resource_limits.max_cpu_percent must be in (0, 100]")
	}
	if limits.MaxMemoryMB == 0 {
		return errors.New("nano_cores.os_core.resource_limits.max_memory_mb must be positive")
	}
	if c.NanoCores.HardwareCore.TemperatureThreshold <= 0 {
		return errors.New("nano_cores.hardware_core.temperature_threshold must be positive")
	}
	if c.NanoCores.NetworkCore.MaxConnections == 0 {
		return errors.New("nano_cores.network_core.max_connections must be positive")
	}
	if c.NanoCores.SecurityCore.EncryptionAlgorithm == "" {
		return errors.New("nano_cores.security_core.encryption_algorithm is required")
	}
	if c.NanoCores.SecurityCore.KeyRotationIntervalHours == 0 {
		return errors.New("nano_cores.security_core.key_rotation_interval_hours must be positive")
	}

	if c.Performance.ThreadPoolSize <= 0 {
		return errors.New("performance.thread_pool_size must be positive")
	}
	if c.Performance.WorkerThreads <= 0 {
		return errors.New("performance.worker_threads must be positive")
	}

	if !validStoreDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver must be one of: memory, postgres (got %q)", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.Postgres.Host == "" {
		return errors.New("store.postgres.host is required for the postgres driver")
	}

	if c.Gossip.Enabled && (c.Gossip.BindPort <= 0 || c.Gossip.BindPort > 65535) {
		return errors.New("gossip.bind_port must be between 1 and 65535")
	}
	return nil
}
