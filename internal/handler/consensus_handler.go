package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/store"
)

// ProposalRequest is the body of POST /v1/proposals
type ProposalRequest struct {
	ID            string          `json:"id,omitempty"`
	ProposalType  string          `json:"proposal_type"`
	Proposer      string          `json:"proposer"`
	Data          json.RawMessage `json:"data,omitempty"`
	RequiredVotes int             `json:"required_votes,omitempty"`
	// Electorate limits voting to one domain, e.g. "security"
	Electorate string `json:"electorate,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

// ProposalResponse describes a proposal's lifecycle position
type ProposalResponse struct {
	ProposalID string                 `json:"proposal_id"`
	Status     model.ProposalStatus   `json:"status"`
	Result     *model.ConsensusResult `json:"result,omitempty"`
}

// VoteRequest is the body of POST /v1/proposals/{id}/votes
type VoteRequest struct {
	VoterID    string             `json:"voter_id"`
	Decision   model.VoteDecision `json:"decision"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// CreateProposal handles POST /v1/proposals. With wait set it blocks until
// the proposal resolves and returns the result.
func (h *Handlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	pt := model.ProposalType(req.ProposalType)
	if !pt.Valid() {
		h.handleError(w, r, errors.InvalidProposal("unknown proposal_type "+strconv.Quote(req.ProposalType)))
		return
	}
	if req.Proposer == "" {
		h.handleError(w, r, errors.InvalidProposal("proposer is required"))
		return
	}
	if req.Electorate != "" {
		if _, ok := model.ParseCoreType(req.Electorate); !ok {
			h.handleError(w, r, errors.InvalidProposal("unknown electorate "+strconv.Quote(req.Electorate)))
			return
		}
	}
	required := req.RequiredVotes
	if required == 0 {
		required = h.deps.Consensus.RecommendedQuorum()
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	proposal := &model.Proposal{
		ID:            req.ID,
		Type:          pt,
		Proposer:      req.Proposer,
		Data:          []byte(req.Data),
		RequiredVotes: required,
		Electorate:    req.Electorate,
	}

	if req.Wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.decideTimeout)
		defer cancel()
		result, err := h.deps.Orchestrator.Decide(ctx, proposal)
		if err != nil {
			if ctx.Err() != nil && !errors.IsNodeError(err) {
				err = errors.ProposalExpired(proposal.ID)
			}
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ProposalResponse{
			ProposalID: result.ProposalID,
			Status:     model.ProposalStatusResolved,
			Result:     result,
		})
		return
	}

	id, err := h.deps.Consensus.Propose(r.Context(), proposal)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ProposalResponse{ProposalID: id, Status: model.ProposalStatusPending})
}

// ListProposals handles GET /v1/proposals
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": h.deps.Consensus.ActiveProposals(),
	})
}

// GetProposal handles GET /v1/proposals/{id}
func (h *Handlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, result := h.deps.Consensus.ProposalStatus(id)
	if status == model.ProposalStatusUnknown {
		h.handleError(w, r, errors.ProposalNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, ProposalResponse{ProposalID: id, Status: status, Result: result})
}

// SubmitVote handles POST /v1/proposals/{id}/votes
func (h *Handlers) SubmitVote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	vote := &model.Vote{
		ProposalID: id,
		VoterID:    req.VoterID,
		Decision:   req.Decision,
		Confidence: req.Confidence,
		Reasoning:  req.Reasoning,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.deps.Consensus.ProcessVote(r.Context(), vote); err != nil {
		h.handleError(w, r, err)
		return
	}

	status, result := h.deps.Consensus.ProposalStatus(id)
	writeJSON(w, http.StatusAccepted, ProposalResponse{ProposalID: id, Status: status, Result: result})
}

// ListReplicas handles GET /v1/replicas
func (h *Handlers) ListReplicas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"replicas":           h.deps.Consensus.Replicas(),
		"health_ratio":       h.deps.Consensus.HealthRatio(),
		"recommended_quorum": h.deps.Consensus.RecommendedQuorum(),
	})
}

// ListResults handles GET /v1/results?decision=&since=&limit=
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ResultFilter{Decision: model.VoteDecision(q.Get("decision"))}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.handleError(w, r, errors.InvalidArgument("limit must be a non-negative integer", err))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.handleError(w, r, errors.InvalidArgument("since must be an RFC 3339 timestamp", err))
			return
		}
		filter.Since = ts
	}

	results, err := h.deps.Results.List(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, errors.StoreFailure("failed to list results", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
