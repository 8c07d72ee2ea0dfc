package config

import (
	"runtime"
	"time"
)

// DefaultConfig returns a configuration suitable for a single local node
func DefaultConfig() *Config {
	cpus := runtime.NumCPU()

	return &Config{
		Server: ServerConfig{
			NodeID:          "saai-node-1",
			Host:            "0.0.0.0",
			HTTPPort:        9090,
			GRPCPort:        9091,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Fabric: FabricConfig{
			Transport:  "memory",
			BufferSize: 1024,
			ZMQ: ZMQConfig{
				ListenEndpoint:   "tcp://127.0.0.1:5555",
				ConnectEndpoints: []string{"tcp://127.0.0.1:5555"},
			},
			Redis: RedisConfig{
				Host: "localhost",
				Port: 6379,
			},
		},
		Consensus: ConsensusConfig{
			ReplicaCount:          3,
			VoteTimeoutMs:         1000,
			HealthCheckIntervalMs: 5000,
			FailureThreshold:      3,
			ByzantineTolerance:    0.33,
			OutcomeCacheSize:      1024,
			MaxConcurrentVotes:    16,
		},
		NanoCores: NanoCoresConfig{
			LoopIntervalMs:    100,
			MonitorIntervalMs: 5000,
			AutoVote:          true,
			HotSwap: HotSwapConfig{
				Enabled:           true,
				RequireConsensus:  false,
				MaxPerMinute:      12,
				Burst:             4,
				Workers:           2,
				ApprovalTimeoutMs: 2000,
			},
			OSCore: OSCoreConfig{
				MonitorIntervalMs: 1000,
				ProcessWhitelist:  []string{"saai-core", "saai-agents"},
				ResourceLimits: ResourceLimits{
					MaxCPUPercent:         80,
					MaxMemoryMB:           4096,
					MaxFileDescriptors:    1024,
					MaxNetworkConnections: 1000,
				},
			},
			HardwareCore: HardwareCoreConfig{
				TemperatureThreshold:       80,
				CPUUsageThreshold:          90,
				MemoryUsageThreshold:       85,
				DiskUsageThreshold:         95,
				DiskPath:                   "/",
				EnablePredictiveMonitoring: true,
			},
			NetworkCore: NetworkCoreConfig{
				MaxConnections:     10000,
				TimeoutMs:          30000,
				QoSEnabled:         true,
				ErrorRateThreshold: 5,
			},
			SecurityCore: SecurityCoreConfig{
				SandboxEnabled:           true,
				EncryptionAlgorithm:      "AES-256-GCM",
				KeyRotationIntervalHours: 24,
				ThreatDetectionEnabled:   true,
				ProcessBlocklist:         []string{"xmrig", "minerd", "kdevtmpfsi"},
			},
		},
		Security: SecurityConfig{
			EnableSandboxing:   true,
			EncryptionKeySize:  256,
			AuditLogEnabled:    true,
			IntrusionDetection: true,
		},
		Performance: PerformanceConfig{
			ThreadPoolSize: cpus,
			WorkerThreads:  cpus,
			GCIntervalMs:   60000,
			CacheSizeMB:    512,
		},
		Store: StoreConfig{
			Driver:         "memory",
			MemoryCapacity: 1000,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "saai",
				User:     "saai",
				SSLMode:  "disable",
				MaxConns: 10,
			},
		},
		Gossip: GossipConfig{
			Enabled:        false,
			BindAddr:       "0.0.0.0",
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeInterval:  1 * time.Second,
			ProbeTimeout:   500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:             true,
			Path:                "/metrics",
			SystemStatsInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			BurstSize:         100,
			MaxClients:        1024,
		},
	}
}

// DevelopmentConfig favors fast feedback: debug logs, short intervals
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Consensus.HealthCheckIntervalMs = 2000
	cfg.NanoCores.MonitorIntervalMs = 2000
	cfg.RateLimit.Enabled = false
	return cfg
}

// ProductionConfig favors resilience: more replicas, consensus-approved hot swaps
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Consensus.ReplicaCount = 5
	cfg.Consensus.VoteTimeoutMs = 500
	cfg.Consensus.HealthCheckIntervalMs = 1000
	cfg.NanoCores.MonitorIntervalMs = 1000
	cfg.NanoCores.HotSwap.RequireConsensus = true
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	cfg.Store.Driver = "postgres"
	cfg.Gossip.Enabled = true
	return cfg
}
