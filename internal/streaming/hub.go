package streaming

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/metrics"
)

// Conn is the transport a Client writes to. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
}

// Client is one connected watcher of a workflow. Writes are serialized
// through the client's lock because the broadcast path and the
// per-connection loop both send on the same socket.
type Client struct {
	ID     string
	UserID string

	mu   sync.Mutex
	conn Conn
}

// NewClient wraps a connection for hub registration.
func NewClient(conn Conn, userID string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
	}
}

// Send writes one message to the underlying socket.
func (c *Client) Send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub tracks which sockets watch which workflow and fans broadcast
// messages out to them. Delivery is at-most-once and best-effort: a socket
// whose send fails is dropped from the set, never retried.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[*Client]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		watchers: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// Register subscribes a client to a workflow's broadcasts.
func (h *Hub) Register(workflowID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.watchers[workflowID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.watchers[workflowID] = set
	}
	set[c] = struct{}{}
	metrics.ConnectionsActive.Inc()
}

// Unregister removes a client. Safe to call for a client already pruned.
func (h *Hub) Unregister(workflowID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(workflowID, c)
}

func (h *Hub) removeLocked(workflowID string, c *Client) {
	set, ok := h.watchers[workflowID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.watchers, workflowID)
	}
	metrics.ConnectionsActive.Dec()
}

// Broadcast pushes a message to every watcher of the workflow. Sockets
// that fail to accept the write are pruned; remaining watchers still get
// the message.
func (h *Hub) Broadcast(workflowID string, msg ServerMessage) {
	h.mu.RLock()
	set := h.watchers[workflowID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var failed []*Client
	for _, c := range clients {
		if err := c.Send(msg); err != nil {
			h.logger.Debug("Dropping watcher after failed send",
				zap.String("workflow_id", workflowID),
				zap.String("client_id", c.ID),
				zap.Error(err),
			)
			failed = append(failed, c)
			continue
		}
		metrics.BroadcastsSent.Inc()
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, c := range failed {
			h.removeLocked(workflowID, c)
		}
		h.mu.Unlock()
		metrics.BroadcastsDropped.Add(float64(len(failed)))
	}
}

// Stats returns the live connection count per workflow.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.watchers))
	for id, set := range h.watchers {
		out[id] = len(set)
	}
	return out
}

// TotalConnections returns the number of live connections across all
// workflows.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.watchers {
		total += len(set)
	}
	return total
}
