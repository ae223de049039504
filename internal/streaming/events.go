package streaming

import (
	"encoding/json"
	"time"
)

// MessageType enumerates server-to-client message kinds. The wire value
// is the JSON "type" field.
type MessageType string

const (
	MessageConnectionEstablished MessageType = "connection_established"
	MessageInitialStatus         MessageType = "initial_status"
	MessageProgressUpdate        MessageType = "progress_update"
	MessageAnalysisFinished      MessageType = "analysis_finished"
	MessageAnalysisCancelled     MessageType = "analysis_cancelled"
	MessagePong                  MessageType = "pong"
	MessageCancelResponse        MessageType = "cancel_response"
	MessageAgentDetails          MessageType = "agent_details"
	MessageError                 MessageType = "error"
)

// ServerMessage is the envelope pushed over WebSocket and SSE.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage builds a timestamped envelope.
func NewMessage(t MessageType, data interface{}) ServerMessage {
	return ServerMessage{Type: t, Data: data, Timestamp: time.Now()}
}

// ErrorMessage builds an error envelope with a client-safe message.
func ErrorMessage(msg string) ServerMessage {
	return NewMessage(MessageError, map[string]string{"message": msg})
}

// ClientMessageType enumerates client-to-server message kinds.
type ClientMessageType string

const (
	ClientPing            ClientMessageType = "ping"
	ClientRequestUpdate   ClientMessageType = "request_update"
	ClientCancelAnalysis  ClientMessageType = "cancel_analysis"
	ClientGetAgentDetails ClientMessageType = "get_agent_details"
)

// ClientMessage is the inbound envelope; Data is decoded per type.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// CancelPayload is the data shape for cancel_analysis messages.
type CancelPayload struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// AgentDetailsPayload is the data shape for get_agent_details messages.
type AgentDetailsPayload struct {
	AgentName string `json:"agent_name"`
}
