package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/metrics"
	"github.com/contractpulse/tracker/internal/progress"
	"github.com/contractpulse/tracker/internal/streaming"
)

// handleSSE streams analysis progress as Server-Sent Events. It is the
// fallback for clients that cannot hold a WebSocket; the payloads match
// the WebSocket envelopes, one snapshot per cadence tick.
// GET /sse/{id}
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	metrics.SSEStreamsActive.Inc()
	defer metrics.SSEStreamsActive.Dec()

	summary, found := h.manager.GetSummary(id)
	if !found {
		writeSSE(w, flusher, streaming.ErrorMessage("analysis not found"))
		return
	}
	writeSSE(w, flusher, streaming.NewMessage(streaming.MessageInitialStatus, summary))

	ticker := time.NewTicker(h.cfg.Get().Streaming.SSEPushInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("workflow_id", id))
			return
		case <-ticker.C:
			summary, found := h.manager.GetSummary(id)
			if !found {
				writeSSE(w, flusher, streaming.ErrorMessage("analysis no longer tracked"))
				return
			}
			if progress.WorkflowState(summary.WorkflowState).Terminal() {
				writeSSE(w, flusher, streaming.NewMessage(streaming.MessageAnalysisFinished, summary))
				return
			}
			writeSSE(w, flusher, streaming.NewMessage(streaming.MessageProgressUpdate, summary))
			ticker.Reset(h.cfg.Get().Streaming.SSEPushInterval)
		}
	}
}

// writeSSE emits one event in SSE wire format and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, msg streaming.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", msg.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
