package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

func (s *Store) loadFromDB(ctx context.Context) error {
	rows, err := s.readDB.QueryContext(ctx, `SELECT task_id, chat_type, peer_uid, chat_name, formats_csv, window_start_ms, window_end_ms, include_recalled, include_resource_links, batch_size, timeout_ms, retry_count, output_dir, created_at, updated_at FROM export_task`)
	if err != nil {
		return fmt.Errorf("taskstore: load tasks: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	for rows.Next() {
		var t ExportTask
		var includeRecalled, includeResLinks int
		var createdAt, updatedAt int64
		if err := rows.Scan(&t.TaskID, &t.ChatType, &t.PeerUID, &t.ChatName, &t.FormatsCSV,
			&t.WindowStartMs, &t.WindowEndMs, &includeRecalled, &includeResLinks, &t.BatchSize, &t.TimeoutMs,
			&t.RetryCount, &t.OutputDir, &createdAt, &updatedAt); err != nil {
			s.mu.Unlock()
			return err
		}
		t.IncludeRecalled = includeRecalled != 0
		t.IncludeResLinks = includeResLinks != 0
		t.CreatedAt = time.Unix(createdAt, 0)
		t.UpdatedAt = time.Unix(updatedAt, 0)
		cp := t
		s.tasks[t.TaskID] = &cp
	}
	s.mu.Unlock()
	if err := rows.Err(); err != nil {
		return err
	}

	stateRows, err := s.readDB.QueryContext(ctx, `SELECT task_id, status, progress_pct, total_msgs, processed_msgs, success, failure, current_msg_id, start_time, end_time, error, speed_mps FROM export_task_state`)
	if err != nil {
		return fmt.Errorf("taskstore: load task states: %w", err)
	}
	defer stateRows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for stateRows.Next() {
		var st TaskState
		var currentMsgID, errStr sql.NullString
		var startTime, endTime sql.NullInt64
		if err := stateRows.Scan(&st.TaskID, &st.Status, &st.ProgressPct, &st.TotalMsgs, &st.ProcessedMsgs,
			&st.Success, &st.Failure, &currentMsgID, &startTime, &endTime, &errStr, &st.SpeedMps); err != nil {
			return err
		}
		st.CurrentMsgID = currentMsgID.String
		st.Error = errStr.String
		if startTime.Valid {
			t := time.Unix(startTime.Int64, 0)
			st.StartTime = &t
		}
		if endTime.Valid {
			t := time.Unix(endTime.Int64, 0)
			st.EndTime = &t
		}
		cp := st
		s.states[st.TaskID] = &cp
	}
	return stateRows.Err()
}

// UpsertTaskAndState persists a task and its state in one transaction.
func (s *Store) UpsertTaskAndState(ctx context.Context, task *ExportTask, state *TaskState) error {
	now := time.Now()
	task.UpdatedAt = now
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}

	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO export_task (task_id, chat_type, peer_uid, chat_name, formats_csv, window_start_ms, window_end_ms, include_recalled, include_resource_links, batch_size, timeout_ms, retry_count, output_dir, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(task_id) DO UPDATE SET
				chat_name=excluded.chat_name, formats_csv=excluded.formats_csv,
				window_start_ms=excluded.window_start_ms, window_end_ms=excluded.window_end_ms,
				include_recalled=excluded.include_recalled,
				include_resource_links=excluded.include_resource_links, batch_size=excluded.batch_size,
				timeout_ms=excluded.timeout_ms, retry_count=excluded.retry_count,
				output_dir=excluded.output_dir, updated_at=excluded.updated_at`,
			task.TaskID, task.ChatType, task.PeerUID, task.ChatName, task.FormatsCSV,
			task.WindowStartMs, task.WindowEndMs, boolToInt(task.IncludeRecalled),
			boolToInt(task.IncludeResLinks), task.BatchSize,
			task.TimeoutMs, task.RetryCount, task.OutputDir, task.CreatedAt.Unix(), task.UpdatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("upsert export_task: %w", err)
		}

		if err := upsertStateTx(ctx, tx, state); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tasks[task.TaskID] = cloneTask(task)
	s.states[state.TaskID] = cloneState(state)
	s.mu.Unlock()
	return nil
}

// SaveState is the fire-and-forget progress-update path: it must never
// block the fetch/parse loop.
func (s *Store) SaveState(state *TaskState) {
	cp := cloneState(state)
	s.mu.Lock()
	s.states[state.TaskID] = cp
	s.mu.Unlock()

	s.writeAsync(func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := upsertStateTx(ctx, tx, cp); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func upsertStateTx(ctx context.Context, tx *sql.Tx, state *TaskState) error {
	var startTime, endTime any
	if state.StartTime != nil {
		startTime = state.StartTime.Unix()
	}
	if state.EndTime != nil {
		endTime = state.EndTime.Unix()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO export_task_state (task_id, status, progress_pct, total_msgs, processed_msgs, success, failure, current_msg_id, start_time, end_time, error, speed_mps)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(task_id) DO UPDATE SET
			status=excluded.status, progress_pct=excluded.progress_pct,
			total_msgs=excluded.total_msgs, processed_msgs=excluded.processed_msgs,
			success=excluded.success, failure=excluded.failure,
			current_msg_id=excluded.current_msg_id, start_time=excluded.start_time,
			end_time=excluded.end_time, error=excluded.error, speed_mps=excluded.speed_mps`,
		state.TaskID, state.Status, state.ProgressPct, state.TotalMsgs, state.ProcessedMsgs,
		state.Success, state.Failure, nullableString(state.CurrentMsgID), startTime, endTime,
		nullableString(state.Error), state.SpeedMps,
	)
	if err != nil {
		return fmt.Errorf("upsert export_task_state: %w", err)
	}
	return nil
}

// GetTask returns the cached task+state pair.
func (s *Store) GetTask(taskID string) (*ExportTask, *TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, nil, false
	}
	return cloneTask(task), cloneState(s.states[taskID]), true
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks() []*ExportTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExportTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListTasksByStatus filters the cache by current state status.
func (s *Store) ListTasksByStatus(status TaskStatus) []*ExportTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ExportTask
	for id, t := range s.tasks {
		if st, ok := s.states[id]; ok && st.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// RecoverOrphanedTasks marks every task still "running" from a prior
// process as failed with error "orphaned". No WS event is emitted since
// there are no subscribers yet at startup.
func (s *Store) RecoverOrphanedTasks(ctx context.Context) (int, error) {
	running := s.ListTasksByStatus(TaskStatusRunning)
	for _, t := range running {
		_, state, ok := s.GetTask(t.TaskID)
		if !ok || state == nil {
			continue
		}
		state.Status = TaskStatusFailed
		state.Error = "orphaned"
		now := time.Now()
		state.EndTime = &now

		if err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if err := upsertStateTx(ctx, tx, state); err != nil {
				return err
			}
			return tx.Commit()
		}); err != nil {
			return 0, err
		}

		s.mu.Lock()
		s.states[t.TaskID] = cloneState(state)
		s.mu.Unlock()
	}
	return len(running), nil
}
