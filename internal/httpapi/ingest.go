package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/auth"
	"github.com/contractpulse/tracker/internal/progress"
)

// The ingest surface is driven by the analysis orchestrator: it registers
// a workflow up front and reports per-agent lifecycle events as they
// happen. The tracker never calls back except through the cancel hook.

// CreateRequest is the body of POST /api/v1/analyses.
type CreateRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	ContractID string                 `json:"contract_id,omitempty"`
	Agents     []string               `json:"agents"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// handleCreate registers a workflow for tracking. Re-posting an existing
// workflow_id replaces the previous record.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok || !user.CanOperate() {
		h.sendError(w, "operator role required", http.StatusForbidden)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" {
		h.sendError(w, "workflow_id is required", http.StatusBadRequest)
		return
	}
	if len(req.Agents) == 0 {
		h.sendError(w, "at least one agent is required", http.StatusBadRequest)
		return
	}

	opts := []progress.CreateOption{}
	if req.ContractID != "" {
		opts = append(opts, progress.WithContractID(req.ContractID))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, progress.WithMetadata(req.Metadata))
	}
	wp := h.manager.CreateWorkflow(req.WorkflowID, req.Agents, opts...)

	h.logger.Info("Analysis registered",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("registered_by", user.Username),
	)
	writeJSON(w, http.StatusCreated, wp.Summary())
}

// AgentProgressRequest is the body of POST .../agents/{agent}/progress.
type AgentProgressRequest struct {
	Percentage float64 `json:"percentage"`
	Operation  string  `json:"operation,omitempty"`
}

// AgentFailRequest is the body of POST .../agents/{agent}/fail.
type AgentFailRequest struct {
	Error string `json:"error"`
}

func (h *Handler) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	h.agentMutation(w, r, func(id, agent string) bool {
		return h.manager.StartAgent(id, agent)
	})
}

func (h *Handler) handleAgentComplete(w http.ResponseWriter, r *http.Request) {
	h.agentMutation(w, r, func(id, agent string) bool {
		return h.manager.CompleteAgent(id, agent)
	})
}

func (h *Handler) handleAgentTimeout(w http.ResponseWriter, r *http.Request) {
	h.agentMutation(w, r, func(id, agent string) bool {
		return h.manager.TimeoutAgent(id, agent)
	})
}

func (h *Handler) handleAgentFail(w http.ResponseWriter, r *http.Request) {
	var req AgentFailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	h.agentMutation(w, r, func(id, agent string) bool {
		return h.manager.FailAgent(id, agent, req.Error)
	})
}

func (h *Handler) handleAgentProgress(w http.ResponseWriter, r *http.Request) {
	var req AgentProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	h.agentMutation(w, r, func(id, agent string) bool {
		return h.manager.UpdateAgentProgress(id, agent, req.Percentage, req.Operation)
	})
}

// agentMutation applies one manager mutation, mapping the manager's
// boolean not-found contract onto 404.
func (h *Handler) agentMutation(w http.ResponseWriter, r *http.Request, op func(id, agent string) bool) {
	user, ok := auth.FromContext(r.Context())
	if !ok || !user.CanOperate() {
		h.sendError(w, "operator role required", http.StatusForbidden)
		return
	}

	id := r.PathValue("id")
	agent := r.PathValue("agent")
	if !op(id, agent) {
		h.sendError(w, "analysis not found", http.StatusNotFound)
		return
	}
	summary, _ := h.manager.GetSummary(id)
	writeJSON(w, http.StatusOK, summary)
}
