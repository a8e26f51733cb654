package protocol

import "time"

// ProtocolVersion is the wire protocol version advertised on /health and
// the initial "connect" handshake.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventExportProgress = "export_progress"
	EventExportComplete = "export_complete"
	EventExportError    = "export_error"
	EventNotification   = "notification"
	EventHealth         = "health"
	EventHeartbeat      = "heartbeat"
)

// EventFrame is the envelope written to a WebSocket client for every
// event: {type, data, timestamp}.
type EventFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewEvent builds an EventFrame from a bus event name and payload, stamping
// the current time in milliseconds since epoch.
func NewEvent(name string, payload interface{}, now time.Time) *EventFrame {
	return &EventFrame{Type: name, Data: payload, Timestamp: now.UnixMilli()}
}
