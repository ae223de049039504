package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contractpulse/tracker/internal/auth"
	"github.com/contractpulse/tracker/internal/progress"
	"github.com/contractpulse/tracker/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured via proxy in prod
}

// handleWebSocket serves the live progress stream for one analysis.
// GET /ws/{id}
//
// The connection runs a reader pump feeding an inbound channel and a
// single writer loop that multiplexes client requests with the periodic
// progress push. All writes go through the hub client so broadcasts and
// loop pushes never interleave on the socket.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, _ := auth.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)

	username := ""
	if user != nil {
		username = user.Username
	}
	client := streaming.NewClient(conn, username)
	h.hub.Register(id, client)
	defer h.hub.Unregister(id, client)

	_ = client.Send(streaming.NewMessage(streaming.MessageConnectionEstablished, map[string]string{
		"workflow_id": id,
		"client_id":   client.ID,
	}))

	summary, ok := h.manager.GetSummary(id)
	if !ok {
		_ = client.Send(streaming.ErrorMessage("analysis not found"))
		return
	}
	_ = client.Send(streaming.NewMessage(streaming.MessageInitialStatus, summary))

	inbound := make(chan streaming.ClientMessage, 16)
	go func() {
		defer close(inbound)
		for {
			var msg streaming.ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case inbound <- msg:
			default:
				// client is flooding faster than we dispatch; drop
			}
		}
	}()

	streamCfg := h.cfg.Get().Streaming
	limiter := rate.NewLimiter(rate.Limit(streamCfg.InboundRate), streamCfg.InboundBurst)
	ticker := time.NewTicker(streamCfg.WSPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if !limiter.Allow() {
				_ = client.Send(streaming.ErrorMessage("rate limit exceeded"))
				continue
			}
			h.dispatchClientMessage(r, client, id, user, msg)

		case <-ticker.C:
			summary, ok := h.manager.GetSummary(id)
			if !ok {
				_ = client.Send(streaming.ErrorMessage("analysis no longer tracked"))
				return
			}
			if progress.WorkflowState(summary.WorkflowState).Terminal() {
				_ = client.Send(streaming.NewMessage(streaming.MessageAnalysisFinished, summary))
				return
			}
			if err := client.Send(streaming.NewMessage(streaming.MessageProgressUpdate, summary)); err != nil {
				return
			}
			ticker.Reset(h.cfg.Get().Streaming.WSPushInterval)
		}
	}
}

// dispatchClientMessage handles one inbound message by type. Unknown
// types get an error reply rather than closing the stream.
func (h *Handler) dispatchClientMessage(r *http.Request, client *streaming.Client, id string, user *auth.UserContext, msg streaming.ClientMessage) {
	switch msg.Type {
	case streaming.ClientPing:
		_ = client.Send(streaming.NewMessage(streaming.MessagePong, nil))

	case streaming.ClientRequestUpdate:
		summary, ok := h.manager.GetSummary(id)
		if !ok {
			_ = client.Send(streaming.ErrorMessage("analysis not found"))
			return
		}
		_ = client.Send(streaming.NewMessage(streaming.MessageProgressUpdate, summary))

	case streaming.ClientCancelAnalysis:
		if user == nil || !user.CanOperate() {
			_ = client.Send(streaming.NewMessage(streaming.MessageCancelResponse, map[string]interface{}{
				"success": false,
				"message": "operator role required",
			}))
			return
		}
		var payload streaming.CancelPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				_ = client.Send(streaming.ErrorMessage("invalid cancel payload"))
				return
			}
		}
		result := h.cancelAnalysis(r.Context(), id, payload.Reason, payload.Force, user.Username)
		_ = client.Send(streaming.NewMessage(streaming.MessageCancelResponse, map[string]interface{}{
			"success": result.accepted,
			"message": result.message,
		}))

	case streaming.ClientGetAgentDetails:
		var payload streaming.AgentDetailsPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				_ = client.Send(streaming.ErrorMessage("invalid agent details payload"))
				return
			}
		}
		wp := h.manager.GetWorkflow(id)
		if wp == nil {
			_ = client.Send(streaming.ErrorMessage("analysis not found"))
			return
		}
		if payload.AgentName == "" {
			// no agent named: return the whole breakdown
			_ = client.Send(streaming.NewMessage(streaming.MessageAgentDetails, wp.Summary().AgentProgress))
			return
		}
		agent, ok := wp.Agent(payload.AgentName)
		if !ok {
			_ = client.Send(streaming.ErrorMessage("agent not found"))
			return
		}
		_ = client.Send(streaming.NewMessage(streaming.MessageAgentDetails, agent))

	default:
		h.logger.Debug("Unknown client message type",
			zap.String("workflow_id", id),
			zap.String("type", string(msg.Type)),
		)
		_ = client.Send(streaming.ErrorMessage("unknown message type"))
	}
}
