package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/export"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
)

func openTestStore(t *testing.T) *taskstore.Store {
	t.Helper()
	s, err := taskstore.Open(context.Background(), filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIsDueMatchesExecuteTimeOnExactMinute(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	se := &taskstore.ScheduledExport{ScheduleType: ScheduleDaily, ExecuteTime: "09:05"}

	due, err := isDue(se, now)
	require.NoError(t, err)
	assert.True(t, due)

	se.ExecuteTime = "09:06"
	due, err = isDue(se, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueMatchesCronExpression(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	se := &taskstore.ScheduledExport{ScheduleType: ScheduleCustom, CronExpr: "5 9 * * *"}

	due, err := isDue(se, now)
	require.NoError(t, err)
	assert.True(t, due)

	se.CronExpr = "6 9 * * *"
	due, err = isDue(se, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueUnknownScheduleTypeNeverFires(t *testing.T) {
	due, err := isDue(&taskstore.ScheduledExport{ScheduleType: "bogus"}, time.Now())
	require.NoError(t, err)
	assert.False(t, due)
}

func TestTickFiresDueSchedulesAndRecordsHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	due := &taskstore.ScheduledExport{
		ID:            "sched-due",
		Name:          "due one",
		ChatType:      "group",
		PeerUID:       "g1",
		ScheduleType:  ScheduleDaily,
		ExecuteTime:   "09:05",
		TimeRangeType: RangeYesterday,
		Format:        "json",
		Enabled:       true,
	}
	notDue := &taskstore.ScheduledExport{
		ID:            "sched-not-due",
		Name:          "not due",
		ChatType:      "group",
		PeerUID:       "g2",
		ScheduleType:  ScheduleDaily,
		ExecuteTime:   "23:59",
		TimeRangeType: RangeYesterday,
		Format:        "json",
		Enabled:       true,
	}
	disabled := &taskstore.ScheduledExport{
		ID:            "sched-disabled",
		Name:          "disabled",
		ChatType:      "group",
		PeerUID:       "g3",
		ScheduleType:  ScheduleDaily,
		ExecuteTime:   "09:05",
		TimeRangeType: RangeYesterday,
		Format:        "json",
		Enabled:       false,
	}
	require.NoError(t, store.UpsertScheduledExport(ctx, due))
	require.NoError(t, store.UpsertScheduledExport(ctx, notDue))
	require.NoError(t, store.UpsertScheduledExport(ctx, disabled))

	var runs atomic.Int32
	var lastTask *taskstore.ExportTask
	runFn := RunExportFunc(func(ctx context.Context, task *taskstore.ExportTask, opts export.Options) error {
		runs.Add(1)
		lastTask = task
		return nil
	})

	sched := New(store, runFn, Config{BatchSize: 100, TimeoutMs: 5000, RetryCount: 3})
	sched.tick(ctx, now)

	assert.Equal(t, int32(1), runs.Load())
	require.NotNil(t, lastTask)
	assert.Equal(t, "group", lastTask.ChatType)
	assert.Equal(t, "g1", lastTask.PeerUID)

	history, err := store.ListExecutionHistory(ctx, "sched-due", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "success", history[0].Status)

	updated, err := store.ListScheduledExports(ctx)
	require.NoError(t, err)
	var found *taskstore.ScheduledExport
	for _, se := range updated {
		if se.ID == "sched-due" {
			found = se
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.LastRun)
	assert.True(t, now.Equal(*found.LastRun))
}

func TestTickRecordsFailureHistoryWhenRunFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	se := &taskstore.ScheduledExport{
		ID:            "sched-fail",
		Name:          "fails",
		ChatType:      "group",
		PeerUID:       "g1",
		ScheduleType:  ScheduleDaily,
		ExecuteTime:   "09:05",
		TimeRangeType: RangeYesterday,
		Format:        "json",
		Enabled:       true,
	}
	require.NoError(t, store.UpsertScheduledExport(ctx, se))

	runFn := RunExportFunc(func(ctx context.Context, task *taskstore.ExportTask, opts export.Options) error {
		return assert.AnError
	})

	sched := New(store, runFn, Config{})
	sched.tick(ctx, now)

	history, err := store.ListExecutionHistory(ctx, "sched-fail", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].Status)
	assert.NotEmpty(t, history[0].Error)
}

func TestIsDueWeeklyMatchesCreationWeekday(t *testing.T) {
	created := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC) // a Tuesday
	se := &taskstore.ScheduledExport{ScheduleType: ScheduleWeekly, ExecuteTime: "09:05", CreatedAt: created}

	tuesday := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	due, err := isDue(se, tuesday)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = isDue(se, tuesday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueCronStepValues(t *testing.T) {
	se := &taskstore.ScheduledExport{ScheduleType: ScheduleCustom, CronExpr: "*/15 * * * *"}
	for _, min := range []int{0, 15, 30, 45} {
		due, err := isDue(se, time.Date(2026, 3, 10, 3, min, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, due, "minute %d", min)
	}
	due, err := isDue(se, time.Date(2026, 3, 10, 3, 7, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestNextRunAfterDailyRollsToNextDay(t *testing.T) {
	se := &taskstore.ScheduledExport{ScheduleType: ScheduleDaily, ExecuteTime: "09:05"}
	now := time.Date(2026, 3, 10, 9, 5, 30, 0, time.UTC)

	next := nextRunAfter(se, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 5, 0, 0, time.UTC), *next)
}
