package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

func localGossipConfig() config.GossipConfig {
	return config.GossipConfig{
		Enabled:        true,
		BindAddr:       "127.0.0.1",
		BindPort:       0,
		GossipInterval: 20 * time.Millisecond,
		ProbeInterval:  200 * time.Millisecond,
		ProbeTimeout:   100 * time.Millisecond,
	}
}

func healthySnapshot() model.SystemHealth {
	return model.SystemHealth{
		Cores: map[model.CoreType][]model.CoreHealth{
			model.CoreTypeOS: {{State: model.CoreStateRunning}, {State: model.CoreStateRunning}, {State: model.CoreStateRunning}},
		},
		OverallState:    model.CoreStateRunning,
		ConsensusHealth: 1,
		FabricLatencyMs: 0.2,
		Timestamp:       time.Unix(1700000000, 0),
	}
}

func TestSummarize(t *testing.T) {
	h := Summarize("node-a", healthySnapshot())
	assert.Equal(t, "node-a", h.NodeID)
	assert.Equal(t, model.CoreStateRunning, h.State)
	assert.True(t, h.Healthy)
	assert.Equal(t, 3, h.Instances)
	assert.Equal(t, int64(1700000000), h.Timestamp)

	degraded := healthySnapshot()
	degraded.ConsensusHealth = 0.5
	assert.False(t, Summarize("node-a", degraded).Healthy)
}

func TestGossipService_JoinAndAdvertiseHealth(t *testing.T) {
	a, err := NewGossipService(localGossipConfig(), "node-a", nil, zap.NewNop())
	require.NoError(t, err)
	defer a.Shutdown()

	b, err := NewGossipService(localGossipConfig(), "node-b", nil, zap.NewNop())
	require.NoError(t, err)
	defer b.Shutdown()

	n, err := b.Join([]string{a.Addr()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		return len(a.Members()) == 2 && len(b.Members()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	a.UpdateHealth(healthySnapshot())
	assert.True(t, a.LocalHealth().Healthy)

	assert.Eventually(t, func() bool {
		for _, m := range b.Members() {
			if m.Name == "node-a" && m.Health != nil && m.Health.Healthy {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	members := a.Members()
	assert.Equal(t, "node-a", members[0].Name)
	assert.Equal(t, "alive", members[0].State)
	require.NotNil(t, members[0].Health)
	assert.Equal(t, model.CoreStateRunning, members[0].Health.State)
}
