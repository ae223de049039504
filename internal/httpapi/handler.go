package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/auth"
	"github.com/contractpulse/tracker/internal/config"
	"github.com/contractpulse/tracker/internal/progress"
	"github.com/contractpulse/tracker/internal/streaming"
	"github.com/contractpulse/tracker/internal/tracing"
)

// CancelHook is an optional callout asking the orchestration layer to
// stop real work after a tracked cancellation. Errors are swallowed; the
// tracked state is already cancelled either way.
type CancelHook func(ctx context.Context, workflowID string) error

// Handler serves the analysis progress surface: REST reads, cancellation,
// the orchestrator ingest endpoints, and the WebSocket/SSE streams.
type Handler struct {
	manager    *progress.Manager
	hub        *streaming.Hub
	cfg        *config.Store
	logger     *zap.Logger
	orchCancel CancelHook
}

// NewHandler wires the handler. orchCancel may be nil.
func NewHandler(manager *progress.Manager, hub *streaming.Hub, cfg *config.Store, logger *zap.Logger, orchCancel CancelHook) *Handler {
	return &Handler{
		manager:    manager,
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
		orchCancel: orchCancel,
	}
}

// RegisterRoutes registers every endpoint on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// read surface
	mux.HandleFunc("GET /api/v1/analyses", h.handleListAnalyses)
	mux.HandleFunc("GET /api/v1/analyses/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /api/v1/analyses/{id}/agents/{agent}", h.handleAgentDetail)
	mux.HandleFunc("GET /api/v1/connections/stats", h.handleConnectionStats)

	// operator surface
	mux.HandleFunc("POST /api/v1/analyses/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /api/v1/maintenance/cleanup", h.handleCleanup)

	// orchestrator ingest surface
	mux.HandleFunc("POST /api/v1/analyses", h.handleCreate)
	mux.HandleFunc("POST /api/v1/analyses/{id}/agents/{agent}/start", h.handleAgentStart)
	mux.HandleFunc("POST /api/v1/analyses/{id}/agents/{agent}/progress", h.handleAgentProgress)
	mux.HandleFunc("POST /api/v1/analyses/{id}/agents/{agent}/complete", h.handleAgentComplete)
	mux.HandleFunc("POST /api/v1/analyses/{id}/agents/{agent}/fail", h.handleAgentFail)
	mux.HandleFunc("POST /api/v1/analyses/{id}/agents/{agent}/timeout", h.handleAgentTimeout)

	// live streams
	mux.HandleFunc("GET /ws/{id}", h.handleWebSocket)
	mux.HandleFunc("GET /sse/{id}", h.handleSSE)
}

// handleStatus returns the current snapshot for one analysis.
// GET /api/v1/analyses/{id}/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "analysis.status")
	defer span.End()
	_ = ctx

	id := r.PathValue("id")
	summary, ok := h.manager.GetSummary(id)
	if !ok {
		h.sendError(w, "analysis not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleListAnalyses snapshots every tracked analysis.
// GET /api/v1/analyses
func (h *Handler) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	all := h.manager.AllWorkflows()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(all),
		"analyses": all,
	})
}

// handleAgentDetail returns one agent's snapshot.
// GET /api/v1/analyses/{id}/agents/{agent}
func (h *Handler) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	wp := h.manager.GetWorkflow(r.PathValue("id"))
	if wp == nil {
		h.sendError(w, "analysis not found", http.StatusNotFound)
		return
	}
	agent, ok := wp.Agent(r.PathValue("agent"))
	if !ok {
		h.sendError(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleConnectionStats reports live watcher counts per analysis.
// GET /api/v1/connections/stats
func (h *Handler) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":        h.hub.TotalConnections(),
		"per_analysis": stats,
	})
}

// CancelRequest is the body of POST .../cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// handleCancel cancels a running analysis and notifies every watcher.
// POST /api/v1/analyses/{id}/cancel
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "analysis.cancel")
	defer span.End()

	user, ok := auth.FromContext(ctx)
	if !ok || !user.CanOperate() {
		h.sendError(w, "operator role required", http.StatusForbidden)
		return
	}

	id := r.PathValue("id")
	var req CancelRequest
	if r.Body != nil {
		// an empty body is a plain cancel
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result := h.cancelAnalysis(ctx, id, req.Reason, req.Force, user.Username)
	switch {
	case result.notFound:
		h.sendError(w, "analysis not found", http.StatusNotFound)
	case !result.accepted:
		h.sendError(w, result.message, http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"workflow_id": id,
			"cancelled":   true,
			"message":     result.message,
		})
	}
}

type cancelResult struct {
	accepted bool
	notFound bool
	message  string
}

// cancelAnalysis is shared by the REST endpoint and the WebSocket
// cancel_analysis message. A cancel is accepted while the workflow is
// initialized or running, or unconditionally with force.
func (h *Handler) cancelAnalysis(ctx context.Context, id, reason string, force bool, requestedBy string) cancelResult {
	wp := h.manager.GetWorkflow(id)
	if wp == nil {
		return cancelResult{notFound: true}
	}

	state := wp.State()
	cancellable := state == progress.WorkflowInitialized || state == progress.WorkflowRunning
	if !cancellable && !force {
		return cancelResult{message: "analysis already " + string(state)}
	}

	h.manager.CancelWorkflow(id, reason)
	h.logger.Info("Analysis cancelled",
		zap.String("workflow_id", id),
		zap.String("requested_by", requestedBy),
		zap.Bool("force", force),
	)

	// Watchers learn immediately; their own loops observe the terminal
	// state on the next tick and close themselves.
	h.hub.Broadcast(id, streaming.NewMessage(streaming.MessageAnalysisCancelled, map[string]interface{}{
		"workflow_id": id,
		"reason":      reason,
	}))

	if h.orchCancel != nil {
		if err := h.orchCancel(ctx, id); err != nil {
			h.logger.Warn("Orchestration-level cancel failed",
				zap.String("workflow_id", id), zap.Error(err))
		}
	}

	return cancelResult{accepted: true, message: "analysis cancelled"}
}

// handleCleanup sweeps finished analyses older than max_age_hours.
// POST /api/v1/maintenance/cleanup?max_age_hours=24
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.FromContext(r.Context())
	if !ok || !user.CanOperate() {
		h.sendError(w, "operator role required", http.StatusForbidden)
		return
	}

	maxAge := h.cfg.Get().Cleanup.MaxAge
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			h.sendError(w, "invalid max_age_hours", http.StatusBadRequest)
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}

	removed := h.manager.CleanupCompletedWorkflows(maxAge)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":       removed,
		"max_age_hours": maxAge.Hours(),
	})
}

// sendError writes a JSON error body with the given status.
func (h *Handler) sendError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
