// Package handler provides the admin API's HTTP handlers.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/cluster"
	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/middleware"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/service"
	"github.com/Alfredo-rv/SAAI/internal/store"
)

// ConsensusAPI is the consensus manager surface the API exposes
type ConsensusAPI interface {
	Propose(ctx context.Context, p *model.Proposal) (string, error)
	ProcessVote(ctx context.Context, v *model.Vote) error
	ProposalStatus(id string) (model.ProposalStatus, *model.ConsensusResult)
	ActiveProposals() []model.Proposal
	Replicas() []model.ReplicaInfo
	RecommendedQuorum() int
	HealthRatio() float64
}

// Orchestrator is the replica orchestrator surface the API exposes
type Orchestrator interface {
	GetHealthStatus(ctx context.Context) model.SystemHealth
	ProcessCommand(ctx context.Context, coreType model.CoreType, index int, name string, payload []byte) ([]byte, error)
	Decide(ctx context.Context, p *model.Proposal) (*model.ConsensusResult, error)
}

// Governance carries out approved node-level changes
type Governance interface {
	ProposeConfigChange(ctx context.Context, changes map[string]any, reason string) (*service.Outcome, error)
	ProposeMutation(ctx context.Context, mutation service.Mutation) (*service.Outcome, error)
	ProposeSecurityAction(ctx context.Context, action service.SecurityAction) (*service.Outcome, error)
}

// ConfigSource exposes the live configuration and its history
type ConfigSource interface {
	Current() *config.Config
	Version() int
	History() []config.Version
	Rollback(version int) (*config.Config, error)
}

// FabricStats reports event bus statistics
type FabricStats interface {
	Statistics() fabric.Statistics
}

// MembersSource lists cluster members
type MembersSource interface {
	Members() []cluster.Member
}

// Dependencies wires the handlers to the node's components. Cluster may be nil.
type Dependencies struct {
	Consensus    ConsensusAPI
	Orchestrator Orchestrator
	Governance   Governance
	Config       ConfigSource
	Results      store.ResultStore
	Fabric       FabricStats
	Cluster      MembersSource
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	deps          Dependencies
	logger        *zap.Logger
	decideTimeout time.Duration
}

// NewHandlers creates a new Handlers instance. decideTimeout bounds requests
// that wait for a consensus outcome.
func NewHandlers(deps Dependencies, decideTimeout time.Duration, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decideTimeout <= 0 {
		decideTimeout = 5 * time.Second
	}
	return &Handlers{
		deps:          deps,
		logger:        logger.Named("handler"),
		decideTimeout: decideTimeout,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError renders err with the status its code maps to
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrCodeInternal
	message := "internal server error"
	if ne, ok := errors.AsNodeError(err); ok {
		status = ne.HTTPStatus()
		code = ne.Code
		message = ne.Error()
	}
	writeJSON(w, status, ErrorResponse{
		ErrorCode: code.String(),
		Message:   message,
		RequestID: middleware.RequestIDFrom(r),
	})
}

func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.IsNodeError(err) {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestIDFrom(r)),
			zap.Error(err))
	}
	WriteError(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.InvalidArgument("request body is required", nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidArgument("invalid request body", err)
	}
	return nil
}
