package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and environment variables.
// A missing file is created from the defaults so the node can start on a
// fresh host.
func Load(configPath string) (*Config, error) {
	return LoadProfile(configPath, "")
}

// Profile returns the base configuration for a named profile
func Profile(name string) (*Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "development":
		return DevelopmentConfig(), nil
	case "production":
		return ProductionConfig(), nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}

// LoadProfile is Load with the named profile as the base the file and
// environment are layered on.
func LoadProfile(configPath, profile string) (*Config, error) {
	cfg, err := Profile(profile)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); stderrors.Is(err, fs.ErrNotExist) {
			if err := Save(cfg, configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		}

		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Environment variables take precedence over the file
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides applies SAAI_* environment variable overrides
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	if nodeID := os.Getenv("SAAI_NODE_ID"); nodeID != "" {
		cfg.Server.NodeID = nodeID
	}
	if host := os.Getenv("SAAI_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SAAI_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.HTTPPort = p
		}
	}
	if port := os.Getenv("SAAI_GRPC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.GRPCPort = p
		}
	}

	// Fabric configuration
	if transport := os.Getenv("SAAI_FABRIC_TRANSPORT"); transport != "" {
		cfg.Fabric.Transport = transport
	}
	if endpoint := os.Getenv("SAAI_ZMQ_LISTEN"); endpoint != "" {
		cfg.Fabric.ZMQ.ListenEndpoint = endpoint
	}
	if endpoints := os.Getenv("SAAI_ZMQ_CONNECT"); endpoints != "" {
		cfg.Fabric.ZMQ.ConnectEndpoints = strings.Split(endpoints, ",")
	}
	if redisHost := os.Getenv("SAAI_REDIS_HOST"); redisHost != "" {
		cfg.Fabric.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("SAAI_REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Fabric.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("SAAI_REDIS_PASSWORD"); redisPassword != "" {
		cfg.Fabric.Redis.Password = redisPassword
	}

	// Consensus configuration
	if replicas := os.Getenv("SAAI_REPLICA_COUNT"); replicas != "" {
		if n, err := strconv.Atoi(replicas); err == nil {
			cfg.Consensus.ReplicaCount = n
		}
	}
	if timeout := os.Getenv("SAAI_VOTE_TIMEOUT_MS"); timeout != "" {
		if n, err := strconv.ParseUint(timeout, 10, 64); err == nil {
			cfg.Consensus.VoteTimeoutMs = n
		}
	}

	// Store configuration
	if driver := os.Getenv("SAAI_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dbHost := os.Getenv("SAAI_DATABASE_HOST"); dbHost != "" {
		cfg.Store.Postgres.Host = dbHost
	}
	if dbPort := os.Getenv("SAAI_DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Store.Postgres.Port = p
		}
	}
	if dbName := os.Getenv("SAAI_DATABASE_NAME"); dbName != "" {
		cfg.Store.Postgres.Database = dbName
	}
	if dbUser := os.Getenv("SAAI_DATABASE_USER"); dbUser != "" {
		cfg.Store.Postgres.User = dbUser
	}
	if dbPassword := os.Getenv("SAAI_DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Store.Postgres.Password = dbPassword
	}

	// Gossip configuration
	if seeds := os.Getenv("SAAI_GOSSIP_SEEDS"); seeds != "" {
		cfg.Gossip.Enabled = true
		cfg.Gossip.Seeds = strings.Split(seeds, ",")
	}

	// Logging configuration
	if level := os.Getenv("SAAI_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SAAI_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// OptimizeForHardware sizes pools and caches from the host's CPU and memory
func OptimizeForHardware(cfg *Config) {
	cpus := runtime.NumCPU()
	cfg.Performance.ThreadPoolSize = cpus
	cfg.Performance.WorkerThreads = cpus * 2

	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return
	}
	totalMB := vm.Total / (1024 * 1024)

	// A tenth of RAM for caches, half for the OS domain limit
	cfg.Performance.CacheSizeMB = totalMB / 10
	cfg.NanoCores.OSCore.ResourceLimits.MaxMemoryMB = totalMB / 2

	if cpus >= 8 {
		cfg.NanoCores.HotSwap.Workers = 4
		cfg.Consensus.MaxConcurrentVotes = cpus * 2
	}
}
