package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Alfredo-rv/SAAI/internal/cluster"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/service"
)

const maxCommandPayload = 1 << 20

const redacted = "********"

// SystemHealthResponse is the body of GET /v1/health
type SystemHealthResponse struct {
	model.SystemHealth
	Healthy bool `json:"healthy"`
}

// ConfigChangeRequest is the body of POST /v1/config/changes
type ConfigChangeRequest struct {
	Changes map[string]any `json:"changes"`
	Reason  string         `json:"reason,omitempty"`
}

// GetSystemHealth handles GET /v1/health
func (h *Handlers) GetSystemHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.deps.Orchestrator.GetHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, SystemHealthResponse{SystemHealth: snapshot, Healthy: snapshot.IsHealthy()})
}

// ExecuteCommand handles POST /v1/cores/{type}/{index}/commands/{name}.
// The request body is passed to the replica untouched.
func (h *Handlers) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	coreType, ok := model.ParseCoreType(vars["type"])
	if !ok {
		h.handleError(w, r, errors.DomainNotFound(vars["type"]))
		return
	}
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		h.handleError(w, r, errors.InvalidArgument("replica index must be an integer", err))
		return
	}

	var payload []byte
	if r.Body != nil {
		payload, err = io.ReadAll(io.LimitReader(r.Body, maxCommandPayload))
		if err != nil {
			h.handleError(w, r, errors.InvalidArgument("failed to read command payload", err))
			return
		}
	}

	out, err := h.deps.Orchestrator.ProcessCommand(r.Context(), coreType, index, vars["name"], payload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// GetConfig handles GET /v1/config. Secrets are redacted.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *h.deps.Config.Current()
	if cfg.Store.Postgres.Password != "" {
		cfg.Store.Postgres.Password = redacted
	}
	if cfg.Fabric.Redis.Password != "" {
		cfg.Fabric.Redis.Password = redacted
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.deps.Config.Version(),
		"config":  cfg,
	})
}

// GetConfigHistory handles GET /v1/config/history
func (h *Handlers) GetConfigHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": h.deps.Config.History()})
}

// RollbackConfig handles POST /v1/config/rollback
func (h *Handlers) RollbackConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version int `json:"version"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if _, err := h.deps.Config.Rollback(req.Version); err != nil {
		h.handleError(w, r, errors.InvalidArgument("rollback failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": h.deps.Config.Version()})
}

// ProposeConfigChange handles POST /v1/config/changes
func (h *Handlers) ProposeConfigChange(w http.ResponseWriter, r *http.Request) {
	var req ConfigChangeRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	out, err := h.deps.Governance.ProposeConfigChange(r.Context(), req.Changes, req.Reason)
	h.writeOutcome(w, r, out, err)
}

// ProposeMutation handles POST /v1/mutations
func (h *Handlers) ProposeMutation(w http.ResponseWriter, r *http.Request) {
	var req service.Mutation
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	out, err := h.deps.Governance.ProposeMutation(r.Context(), req)
	h.writeOutcome(w, r, out, err)
}

// ProposeSecurityAction handles POST /v1/security/actions
func (h *Handlers) ProposeSecurityAction(w http.ResponseWriter, r *http.Request) {
	var req service.SecurityAction
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	out, err := h.deps.Governance.ProposeSecurityAction(r.Context(), req)
	h.writeOutcome(w, r, out, err)
}

func (h *Handlers) writeOutcome(w http.ResponseWriter, r *http.Request, out *service.Outcome, err error) {
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetFabricStats handles GET /v1/fabric/stats
func (h *Handlers) GetFabricStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Fabric.Statistics())
}

// ListClusterMembers handles GET /v1/cluster/members
func (h *Handlers) ListClusterMembers(w http.ResponseWriter, r *http.Request) {
	members := []cluster.Member{}
	if h.deps.Cluster != nil {
		members = h.deps.Cluster.Members()
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}
