package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, DevelopmentConfig().Validate())
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()
	assert.Equal(t, 5, cfg.Consensus.ReplicaCount)
	assert.True(t, cfg.NanoCores.HotSwap.RequireConsensus)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"too few replicas", func(c *Config) { c.Consensus.ReplicaCount = 2 }, "consensus.replica_count must be at least 3"},
		{"tolerance too high", func(c *Config) { c.Consensus.ByzantineTolerance = 0.5 }, "consensus.byzantine_tolerance"},
		{"zero vote timeout", func(c *Config) { c.Consensus.VoteTimeoutMs = 0 }, "consensus.vote_timeout_ms"},
		{"bad transport", func(c *Config) { c.Fabric.Transport = "carrier-pigeon" }, "fabric.transport"},
		{"bad store driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"missing node id", func(c *Config) { c.Server.NodeID = "" }, "server.node_id"},
		{"cpu limit out of range", func(c *Config) { c.NanoCores.OSCore.ResourceLimits.MaxCPUPercent = 150 }, "max_cpu_percent"},
		{"zero worker threads", func(c *Config) { c.Performance.WorkerThreads = 0 }, "performance.worker_threads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "saai.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Consensus, cfg.Consensus)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")
	content := `
server:
  node_id: node-7
  http_port: 8080
consensus:
  replica_count: 5
  vote_timeout_ms: 250
server_unknown_key: ignored
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.Server.NodeID)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Consensus.ReplicaCount)
	assert.Equal(t, uint64(250), cfg.Consensus.VoteTimeoutMs)
	// untouched sections keep their defaults
	assert.Equal(t, "AES-256-GCM", cfg.NanoCores.SecurityCore.EncryptionAlgorithm)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus:\n  replica_count: 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica_count")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SAAI_NODE_ID", "env-node")
	t.Setenv("SAAI_REPLICA_COUNT", "7")
	t.Setenv("SAAI_GOSSIP_SEEDS", "10.0.0.1:7946,10.0.0.2:7946")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-node", cfg.Server.NodeID)
	assert.Equal(t, 7, cfg.Consensus.ReplicaCount)
	assert.True(t, cfg.Gossip.Enabled)
	assert.Equal(t, []string{"10.0.0.1:7946", "10.0.0.2:7946"}, cfg.Gossip.Seeds)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")
	orig := DevelopmentConfig()
	orig.Server.NodeID = "roundtrip"
	require.NoError(t, Save(orig, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig.Server, loaded.Server)
	assert.Equal(t, orig.NanoCores.HardwareCore, loaded.NanoCores.HardwareCore)
}

func TestOptimizeForHardware(t *testing.T) {
	cfg := DefaultConfig()
	OptimizeForHardware(cfg)
	assert.Positive(t, cfg.Performance.ThreadPoolSize)
	assert.Equal(t, cfg.Performance.ThreadPoolSize*2, cfg.Performance.WorkerThreads)
	require.NoError(t, cfg.Validate())
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")

	cfg, err := LoadProfile(path, "production")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Consensus.ReplicaCount)
	assert.True(t, cfg.NanoCores.HotSwap.RequireConsensus)

	_, err = LoadProfile("", "staging")
	assert.Error(t, err)
}
