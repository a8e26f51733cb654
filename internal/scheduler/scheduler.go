// Package scheduler evaluates scheduled-export triggers every minute and
// fires matching jobs through the task orchestrator.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/export"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
)

// defaultPollInterval is how often triggers are evaluated when Config
// leaves PollInterval unset. Trigger granularity is one minute, the same
// as cron itself.
const defaultPollInterval = time.Minute

// Schedule types recognized by a scheduled export's schedule_type column.
const (
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
	ScheduleCustom  = "custom"
)

// RunExportFunc drives one export end-to-end; satisfied by
// (*orchestrator.Orchestrator).RunExport. Scheduler depends on this
// function type rather than the orchestrator package directly, avoiding
// an import cycle (orchestrator does not need to know about schedules).
type RunExportFunc func(ctx context.Context, task *taskstore.ExportTask, opts export.Options) error

// Scheduler owns the cron/execute-time evaluation loop.
type Scheduler struct {
	store        *taskstore.Store
	runFn        RunExportFunc
	outputDir    func(se *taskstore.ScheduledExport) string
	batchSize    int
	timeoutMs    int64
	retries      int
	pollInterval time.Duration
}

// Config carries the export defaults a fired schedule's task row should
// use, mirroring the defaults config.Default() assigns to ad-hoc exports.
type Config struct {
	OutputDirFunc func(se *taskstore.ScheduledExport) string
	BatchSize     int
	TimeoutMs     int64
	RetryCount    int
	PollInterval  time.Duration
}

// New builds a Scheduler against store, firing matched schedules through runFn.
func New(store *taskstore.Store, runFn RunExportFunc, cfg Config) *Scheduler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{
		store:        store,
		runFn:        runFn,
		outputDir:    cfg.OutputDirFunc,
		batchSize:    cfg.BatchSize,
		timeoutMs:    cfg.TimeoutMs,
		retries:      cfg.RetryCount,
		pollInterval: pollInterval,
	}
}

// Run evaluates triggers every pollInterval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListScheduledExports(ctx)
	if err != nil {
		slog.Error("scheduler.list_failed", "error", err)
		return
	}

	for _, se := range schedules {
		if !se.Enabled {
			continue
		}
		due, err := isDue(se, now)
		if err != nil {
			slog.Warn("scheduler.trigger_eval_failed", "schedule_id", se.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(ctx, se, now)
	}
}

// isDue reports whether se's trigger matches now. daily/weekly/monthly
// match the "HH:MM" execute_time (weekly on the weekday the schedule was
// created, monthly on its day of month); custom evaluates the 5-field
// cron expression via adhocore/gronx, which accepts both 0 and 7 for
// Sunday.
func isDue(se *taskstore.ScheduledExport, now time.Time) (bool, error) {
	atExecuteTime := now.Format("15:04") == se.ExecuteTime
	switch se.ScheduleType {
	case ScheduleDaily:
		return atExecuteTime, nil
	case ScheduleWeekly:
		return atExecuteTime && now.Weekday() == se.CreatedAt.Weekday(), nil
	case ScheduleMonthly:
		return atExecuteTime && now.Day() == se.CreatedAt.Day(), nil
	case ScheduleCustom:
		return gronx.New().IsDue(se.CronExpr, now)
	default:
		return false, nil
	}
}

// nextRunAfter computes the next trigger time strictly after now, or nil
// when it cannot be determined.
func nextRunAfter(se *taskstore.ScheduledExport, now time.Time) *time.Time {
	if se.ScheduleType == ScheduleCustom {
		next, err := gronx.NextTickAfter(se.CronExpr, now, false)
		if err != nil {
			return nil
		}
		return &next
	}

	at, err := time.ParseInLocation("15:04", se.ExecuteTime, now.Location())
	if err != nil {
		return nil
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	for !candidate.After(now) || !matchesDay(se, candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return &candidate
}

func matchesDay(se *taskstore.ScheduledExport, t time.Time) bool {
	switch se.ScheduleType {
	case ScheduleWeekly:
		return t.Weekday() == se.CreatedAt.Weekday()
	case ScheduleMonthly:
		return t.Day() == se.CreatedAt.Day()
	default:
		return true
	}
}

func (s *Scheduler) fire(ctx context.Context, se *taskstore.ScheduledExport, now time.Time) {
	start := time.Now()

	startMs, endMs, err := ComputeWindow(se.TimeRangeType, now, se.RangeOffsetStart, se.RangeOffsetEnd)
	if err != nil {
		s.recordFailure(ctx, se, start, err)
		return
	}

	outputDir := ""
	if s.outputDir != nil {
		outputDir = s.outputDir(se)
	}

	task := &taskstore.ExportTask{
		TaskID:          uuid.Must(uuid.NewV7()).String(),
		ChatType:        se.ChatType,
		PeerUID:         se.PeerUID,
		ChatName:        se.Name,
		FormatsCSV:      se.Format,
		WindowStartMs:   startMs,
		WindowEndMs:     endMs,
		IncludeResLinks: true,
		BatchSize:       s.batchSize,
		TimeoutMs:       s.timeoutMs,
		RetryCount:      s.retries,
		OutputDir:       outputDir,
	}

	runErr := s.runFn(ctx, task, export.Options{})

	se.LastRun = &now
	se.NextRun = nextRunAfter(se, now)
	if err := s.store.UpsertScheduledExport(ctx, se); err != nil {
		slog.Error("scheduler.update_last_run_failed", "schedule_id", se.ID, "error", err)
	}

	if runErr != nil {
		s.recordFailure(ctx, se, start, runErr)
		return
	}

	_, state, ok := s.store.GetTask(task.TaskID)
	msgCount := 0
	status := "success"
	if ok && state != nil {
		msgCount = state.ProcessedMsgs
		if state.Failure > 0 {
			status = "partial"
		}
	}

	_ = s.store.AppendExecutionHistory(ctx, &taskstore.ExecutionHistory{
		ID:                uuid.NewString(),
		ScheduledExportID: se.ID,
		ExecutedAt:        start,
		Status:            status,
		MessageCount:      msgCount,
		DurationMs:        time.Since(start).Milliseconds(),
	})
}

func (s *Scheduler) recordFailure(ctx context.Context, se *taskstore.ScheduledExport, start time.Time, cause error) {
	slog.Error("scheduler.fire_failed", "schedule_id", se.ID, "error", cause)
	_ = s.store.AppendExecutionHistory(ctx, &taskstore.ExecutionHistory{
		ID:                uuid.NewString(),
		ScheduledExportID: se.ID,
		ExecutedAt:        start,
		Status:            "failed",
		Error:             cause.Error(),
		DurationMs:        time.Since(start).Milliseconds(),
	})
}
