// Package server hosts the node's admin HTTP API and gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/handler"
	"github.com/Alfredo-rv/SAAI/internal/health"
	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/middleware"
)

// Options carries the components the server exposes.
type Options struct {
	Handlers   handler.Dependencies
	Health     *health.HealthChecker
	GRPCHealth *grpchealth.Server
	Metrics    *metrics.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server represents the admin HTTP server and the gRPC health endpoint.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	grpcServer  *grpc.Server
	handlers    *handler.Handlers
	healthCheck *health.HealthChecker
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
	cfg         *config.Config
}

// NewServer creates a new server. Call SetupRoutes before Start.
func NewServer(cfg *config.Config, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()

	decideTimeout := time.Duration(cfg.Consensus.VoteTimeoutMs)*time.Millisecond + time.Second
	handlers := handler.NewHandlers(opts.Handlers, decideTimeout, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(nodeErrorInterceptor),
	)
	hs := opts.GRPCHealth
	if hs == nil {
		hs = grpchealth.NewServer()
	}
	healthpb.RegisterHealthServer(grpcServer, hs)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		router:      router,
		httpServer:  httpServer,
		grpcServer:  grpcServer,
		handlers:    handlers,
		healthCheck: opts.Health,
		metrics:     opts.Metrics,
		gatherer:    gatherer,
		logger:      logger,
		cfg:         cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recovery(s.logger),
		middleware.Observe(s.logger, s.metrics),
	}

	if s.cfg.RateLimit.Enabled {
		rateLimiter, err := middleware.NewRateLimiter(
			s.cfg.RateLimit.RequestsPerSecond,
			s.cfg.RateLimit.BurstSize,
			s.cfg.RateLimit.MaxClients,
			s.logger,
		)
		if err != nil {
			s.logger.Error("Rate limiter disabled", zap.Error(err))
		} else {
			middlewareChain = append(middlewareChain, rateLimiter.Limit)
		}
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	if s.healthCheck != nil {
		s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	}
	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", s.handlers.GetSystemHealth).Methods(http.MethodGet)

	// Consensus
	v1.HandleFunc("/replicas", s.handlers.ListReplicas).Methods(http.MethodGet)
	v1.HandleFunc("/proposals", s.handlers.CreateProposal).Methods(http.MethodPost)
	v1.HandleFunc("/proposals", s.handlers.ListProposals).Methods(http.MethodGet)
	v1.HandleFunc("/proposals/{id}", s.handlers.GetProposal).Methods(http.MethodGet)
	v1.HandleFunc("/proposals/{id}/votes", s.handlers.SubmitVote).Methods(http.MethodPost)
	v1.HandleFunc("/results", s.handlers.ListResults).Methods(http.MethodGet)

	// Replicas and governance
	v1.HandleFunc("/cores/{type}/{index:[0-9]+}/commands/{name}", s.handlers.ExecuteCommand).Methods(http.MethodPost)
	v1.HandleFunc("/config", s.handlers.GetConfig).Methods(http.MethodGet)
	v1.HandleFunc("/config/history", s.handlers.GetConfigHistory).Methods(http.MethodGet)
	v1.HandleFunc("/config/changes", s.handlers.ProposeConfigChange).Methods(http.MethodPost)
	v1.HandleFunc("/config/rollback", s.handlers.RollbackConfig).Methods(http.MethodPost)
	v1.HandleFunc("/mutations", s.handlers.ProposeMutation).Methods(http.MethodPost)
	v1.HandleFunc("/security/actions", s.handlers.ProposeSecurityAction).Methods(http.MethodPost)

	// Fabric and cluster
	v1.HandleFunc("/fabric/stats", s.handlers.GetFabricStats).Methods(http.MethodGet)
	v1.HandleFunc("/cluster/members", s.handlers.ListClusterMembers).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	// Subrouters answer their own misses, so both routers get the handlers.
	for _, r := range []*mux.Router{s.router, v1} {
		r.NotFoundHandler = notFound
		r.MethodNotAllowedHandler = methodNotAllowed
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// StartGRPC listens on the configured gRPC port and serves the health service.
func (s *Server) StartGRPC() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}
	s.logger.Info("Starting gRPC server", zap.String("address", addr))
	return s.ServeGRPC(lis)
}

// ServeGRPC serves the gRPC endpoint on lis.
func (s *Server) ServeGRPC(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down both servers, forcing the gRPC server
// closed if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down servers")
	if s.healthCheck != nil {
		s.healthCheck.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	err := s.httpServer.Shutdown(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return err
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

func writeRouteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(handler.ErrorResponse{
		ErrorCode: code,
		Message:   message,
		RequestID: middleware.RequestIDFrom(r),
	})
}

// nodeErrorInterceptor converts NodeError results to gRPC statuses
func nodeErrorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	resp, err := next(ctx, req)
	if ne, ok := errors.AsNodeError(err); ok {
		return resp, ne.ToGRPCStatus().Err()
	}
	return resp, err
}
