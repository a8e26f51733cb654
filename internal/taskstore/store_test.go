package taskstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTask(id string) *ExportTask {
	return &ExportTask{
		TaskID:        id,
		ChatType:      "group",
		PeerUID:       "g1",
		ChatName:      "Study Group",
		FormatsCSV:    "json,html",
		WindowStartMs: 1700000000000,
		WindowEndMs:   1700086400000,
		BatchSize:     200,
		TimeoutMs:     60000,
		RetryCount:    3,
		OutputDir:     "/tmp/out",
	}
}

func sampleState(id string, status TaskStatus) *TaskState {
	return &TaskState{
		TaskID:      id,
		Status:      status,
		ProgressPct: 0,
	}
}

func TestUpsertTaskAndStatePersistsAndCachesAtomically(t *testing.T) {
	s := openTestStore(t)
	task := sampleTask("t1")
	state := sampleState("t1", TaskStatusPending)

	require.NoError(t, s.UpsertTaskAndState(context.Background(), task, state))

	got, gotState, ok := s.GetTask("t1")
	require.True(t, ok)
	require.Equal(t, "Study Group", got.ChatName)
	require.Equal(t, TaskStatusPending, gotState.Status)

	var chatName string
	row := s.readDB.QueryRowContext(context.Background(), `SELECT chat_name FROM export_task WHERE task_id = ?`, "t1")
	require.NoError(t, row.Scan(&chatName))
	require.Equal(t, "Study Group", chatName)
}

func TestSaveStateIsFireAndForgetAndEventuallyPersists(t *testing.T) {
	s := openTestStore(t)
	task := sampleTask("t2")
	state := sampleState("t2", TaskStatusRunning)
	require.NoError(t, s.UpsertTaskAndState(context.Background(), task, state))

	state.ProgressPct = 42
	state.ProcessedMsgs = 420
	s.SaveState(state)

	_, cached, ok := s.GetTask("t2")
	require.True(t, ok)
	require.Equal(t, 42, cached.ProgressPct)

	require.Eventually(t, func() bool {
		row := s.readDB.QueryRowContext(context.Background(), `SELECT progress_pct FROM export_task_state WHERE task_id = ?`, "t2")
		var pct int
		if err := row.Scan(&pct); err != nil {
			return false
		}
		return pct == 42
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListTasksOrdersByCreatedAtDescending(t *testing.T) {
	s := openTestStore(t)
	older := sampleTask("older")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := sampleTask("newer")
	newer.CreatedAt = time.Now()

	require.NoError(t, s.UpsertTaskAndState(context.Background(), older, sampleState("older", TaskStatusCompleted)))
	require.NoError(t, s.UpsertTaskAndState(context.Background(), newer, sampleState("newer", TaskStatusCompleted)))

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	require.Equal(t, "newer", tasks[0].TaskID)
	require.Equal(t, "older", tasks[1].TaskID)
}

func TestListTasksByStatusFiltersCache(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertTaskAndState(context.Background(), sampleTask("running1"), sampleState("running1", TaskStatusRunning)))
	require.NoError(t, s.UpsertTaskAndState(context.Background(), sampleTask("done1"), sampleState("done1", TaskStatusCompleted)))

	running := s.ListTasksByStatus(TaskStatusRunning)
	require.Len(t, running, 1)
	require.Equal(t, "running1", running[0].TaskID)
}

func TestRecoverOrphanedTasksMarksRunningAsFailed(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertTaskAndState(context.Background(), sampleTask("orphan"), sampleState("orphan", TaskStatusRunning)))

	n, err := s.RecoverOrphanedTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, state, ok := s.GetTask("orphan")
	require.True(t, ok)
	require.Equal(t, TaskStatusFailed, state.Status)
	require.Equal(t, "orphaned", state.Error)
}

func TestUpsertResourceAndDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	old := &ResourceRecord{MD5: "abc", Type: "image", FileName: "a.png", FileSize: 10, Status: "downloaded", CheckedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &ResourceRecord{MD5: "def", Type: "image", FileName: "b.png", FileSize: 10, Status: "downloaded", CheckedAt: time.Now()}

	s.UpsertResource(old)
	s.UpsertResource(fresh)

	require.Eventually(t, func() bool {
		row := s.readDB.QueryRowContext(context.Background(), `SELECT count(*) FROM resource`)
		var n int
		_ = row.Scan(&n)
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	affected, err := s.DeleteExpiredResources(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)
}

func TestScheduledExportCRUDAndExecutionHistoryTrim(t *testing.T) {
	s := openTestStore(t)
	se := &ScheduledExport{
		ID: "sched1", Name: "Nightly", ChatType: "group", PeerUID: "g1",
		ScheduleType: "custom", CronExpr: "0 2 * * *", TimeRangeType: "yesterday",
		Format: "json", Enabled: true,
	}
	require.NoError(t, s.UpsertScheduledExport(context.Background(), se))

	list, err := s.ListScheduledExports(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Nightly", list[0].Name)

	for i := 0; i < 105; i++ {
		h := &ExecutionHistory{
			ID:                "exec-" + time.Now().Add(time.Duration(i)*time.Second).Format("150405.000000000"),
			ScheduledExportID: "sched1",
			ExecutedAt:        time.Now().Add(time.Duration(i) * time.Minute),
			Status:            "success",
			MessageCount:      100,
			DurationMs:        500,
		}
		require.NoError(t, s.AppendExecutionHistory(context.Background(), h))
	}

	history, err := s.ListExecutionHistory(context.Background(), "sched1", 200)
	require.NoError(t, err)
	require.LessOrEqual(t, len(history), 100)

	require.NoError(t, s.DeleteScheduledExport(context.Background(), "sched1"))
	list, err = s.ListScheduledExports(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 0)
}
