package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")

	out, err := execute(t, "validate-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
	assert.Contains(t, out, "3 replicas per domain")

	_, err = execute(t, "validate-config", "--config", path, "--profile", "staging")
	assert.Error(t, err)
}

func TestPrintConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saai.yaml")

	out, err := execute(t, "print-config", "--config", path, "--profile", "production")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 5, cfg.Consensus.ReplicaCount)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestNewTransport(t *testing.T) {
	tr, err := newTransport(config.FabricConfig{Transport: "memory", BufferSize: 8}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &fabric.MemoryTransport{}, tr)
	require.NoError(t, tr.Close())

	_, err = newTransport(config.FabricConfig{Transport: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	level := zap.NewAtomicLevel()
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, level)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, zap.NewAtomicLevel())
	require.NoError(t, err)
}
