package protocol

// RPC method name constants for the control WebSocket/HTTP surface.

const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodExportStart  = "export.start"
	MethodExportGet    = "export.get"
	MethodExportList   = "export.list"
	MethodExportCancel = "export.cancel"

	MethodScheduleCreate = "schedule.create"
	MethodScheduleList   = "schedule.list"
	MethodScheduleUpdate = "schedule.update"
	MethodScheduleDelete = "schedule.delete"
	MethodScheduleRuns   = "schedule.runs"
)
