package bus

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"` // e.g. "export_progress", "export_complete", "export_error", "notification"
	Payload interface{} `json:"payload,omitempty"`
}

// Event name constants, mirrored by pkg/protocol for the wire frame.
const (
	EventExportProgress = "export_progress"
	EventExportComplete = "export_complete"
	EventExportError    = "export_error"
	EventNotification   = "notification"
)

// ExportEventPayload is the WS payload shape shared by
// notification/export_progress/export_complete/export_error. Front-end
// clients key on these exact field names.
type ExportEventPayload struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Message      string `json:"message,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription, decoupling the
// orchestrator and scheduler from the concrete WebSocket hub in
// internal/gateway.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
