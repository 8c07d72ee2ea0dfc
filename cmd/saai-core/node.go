package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	grpchealth "google.golang.org/grpc/health"

	"github.com/Alfredo-rv/SAAI/internal/cluster"
	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/consensus"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/handler"
	"github.com/Alfredo-rv/SAAI/internal/health"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
	"github.com/Alfredo-rv/SAAI/internal/nanocore/cores"
	"github.com/Alfredo-rv/SAAI/internal/server"
	"github.com/Alfredo-rv/SAAI/internal/service"
	"github.com/Alfredo-rv/SAAI/internal/store"
)

func run(ctx context.Context, cfg *config.Config) error {
	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.Logging, level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting SAAI node",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("transport", cfg.Fabric.Transport),
		zap.Int("replica_count", cfg.Consensus.ReplicaCount),
		zap.String("store", cfg.Store.Driver))

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Server.NodeID, registry)

	// Event fabric
	transport, err := newTransport(cfg.Fabric, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s transport: %w", cfg.Fabric.Transport, err)
	}
	bus := fabric.NewFabric(transport, cfg.Server.NodeID, m, logger)
	defer bus.Close()
	logger.Info("Event fabric initialized")

	// Result store and archiver
	results, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize result store: %w", err)
	}
	defer results.Close()

	archiver := store.NewArchiver(bus, results, logger)
	if err := archiver.Start(); err != nil {
		return fmt.Errorf("failed to start result archiver: %w", err)
	}
	defer archiver.Stop()

	// Consensus
	cons, err := consensus.NewManager(consensus.ConfigFrom(cfg), bus, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create consensus manager: %w", err)
	}
	cons.Start(ctx)
	defer cons.Stop()

	// Health reporting
	grpcHealth := grpchealth.NewServer()
	checker := health.NewHealthChecker(cfg.Server.NodeID, results, grpcHealth, logger)

	var gossip *cluster.GossipService
	if cfg.Gossip.Enabled {
		gossip, err = cluster.NewGossipService(cfg.Gossip, cfg.Server.NodeID, m, logger)
		if err != nil {
			return fmt.Errorf("failed to start gossip: %w", err)
		}
		defer gossip.Shutdown()
	}

	// Replica orchestration
	orchestrator := nanocore.NewManager(
		nanocore.ManagerConfigFrom(cfg),
		cores.NewFactory(cfg.NanoCores, bus, logger),
		bus,
		cons,
		m,
		logger,
	)
	orchestrator.OnHealth(checker.Observe)
	if gossip != nil {
		orchestrator.OnHealth(gossip.UpdateHealth)
	}

	if err := orchestrator.InitializeAllCores(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		orchestrator.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to initialize nano-cores: %w", err)
	}
	logger.Info("Nano-cores initialized", zap.Int("domains", len(orchestrator.Domains())))

	// Live configuration and governance
	configs := config.NewManager(cfg, 16)
	configs.OnChange(func(next *config.Config) {
		if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil {
			level.SetLevel(lvl)
		}
		logger.Info("Configuration updated", zap.Int("version", configs.Version()))
	})
	governance := service.NewGovernanceService(cfg.Server.NodeID, orchestrator, orchestrator, configs, bus, logger)

	deps := handler.Dependencies{
		Consensus:    cons,
		Orchestrator: orchestrator,
		Governance:   governance,
		Config:       configs,
		Results:      results,
		Fabric:       bus,
	}
	if gossip != nil {
		deps.Cluster = gossip
	}

	srv := server.NewServer(cfg, server.Options{
		Handlers:   deps,
		Health:     checker,
		GRPCHealth: grpcHealth,
		Metrics:    m,
		Gatherer:   registry,
	}, logger)
	srv.SetupRoutes()

	serverErrors := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrors <- err
		}
	}()
	go func() {
		if err := srv.StartGRPC(); err != nil {
			serverErrors <- err
		}
	}()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go reportSystemStats(statsCtx, m, cfg.Metrics.SystemStatsInterval)

	logger.Info("SAAI node started",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort))

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
		runErr = err
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down servers", zap.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down nano-cores", zap.Error(err))
	}

	saved, failed := archiver.Counts()
	logger.Info("SAAI node stopped",
		zap.Uint64("results_archived", saved),
		zap.Uint64("results_failed", failed))
	return runErr
}

func newTransport(cfg config.FabricConfig, logger *zap.Logger) (fabric.Transport, error) {
	switch cfg.Transport {
	case "", "memory":
		return fabric.NewMemoryTransport(cfg.BufferSize, logger), nil
	case "zmq":
		t, err := fabric.NewZMQTransport(fabric.ZMQConfig{
			ListenEndpoint:   cfg.ZMQ.ListenEndpoint,
			ConnectEndpoints: cfg.ZMQ.ConnectEndpoints,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "redis":
		t, err := fabric.NewRedisTransport(fabric.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// newLogger builds the node logger. level is adjusted later by approved
// configuration changes.
func newLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func reportSystemStats(ctx context.Context, m *metrics.Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		m.UpdateSystemStats(ms.Alloc, runtime.NumGoroutine())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
