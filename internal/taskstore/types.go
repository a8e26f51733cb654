// Package taskstore is the single-writer embedded relational store for
// export tasks, resources, and scheduled exports.
package taskstore

import "time"

// TaskStatus is the lifecycle state of an export task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// ExportTask mirrors the export_task table.
type ExportTask struct {
	TaskID          string
	ChatType        string
	PeerUID         string
	ChatName        string
	FormatsCSV      string
	WindowStartMs   int64
	WindowEndMs     int64
	IncludeResLinks bool
	IncludeRecalled bool
	BatchSize       int
	TimeoutMs       int64
	RetryCount      int
	OutputDir       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TaskState mirrors the export_task_state table.
type TaskState struct {
	TaskID        string
	Status        TaskStatus
	ProgressPct   int
	TotalMsgs     int
	ProcessedMsgs int
	Success       int
	Failure       int
	CurrentMsgID  string
	StartTime     *time.Time
	EndTime       *time.Time
	Error         string
	SpeedMps      float64
}

// ResourceRecord mirrors the resource table. It is independent of
// internal/resource.Info so the store has no import-time dependency on the
// downloader package; callers translate at the boundary.
type ResourceRecord struct {
	MD5              string
	Type             string
	FileName         string
	FileSize         int64
	Mime             string
	OriginalURL      string
	LocalPath        string
	Status           string
	Accessible       bool
	CheckedAt        time.Time
	DownloadAttempts int
	LastError        string
}

// ScheduledExport mirrors the scheduled_export table.
type ScheduledExport struct {
	ID               string
	Name             string
	ChatType         string
	PeerUID          string
	ScheduleType     string // daily | weekly | monthly | custom
	CronExpr         string
	ExecuteTime      string
	TimeRangeType    string // yesterday|last-week|last-month|last-7-days|last-30-days|custom
	RangeOffsetStart int64
	RangeOffsetEnd   int64
	Format           string
	OptionsJSON      string
	Enabled          bool
	LastRun          *time.Time
	NextRun          *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExecutionHistory mirrors the execution_history table.
type ExecutionHistory struct {
	ID                 string
	ScheduledExportID  string
	ExecutedAt         time.Time
	Status             string
	MessageCount       int
	FilePath           string
	FileSize           int64
	Error              string
	DurationMs         int64
}
