package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertScheduledExport creates or updates a scheduled export row.
func (s *Store) UpsertScheduledExport(ctx context.Context, se *ScheduledExport) error {
	now := time.Now()
	se.UpdatedAt = now
	if se.CreatedAt.IsZero() {
		se.CreatedAt = now
	}

	var lastRun, nextRun any
	if se.LastRun != nil {
		lastRun = se.LastRun.Unix()
	}
	if se.NextRun != nil {
		nextRun = se.NextRun.Unix()
	}

	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduled_export (id, name, chat_type, peer_uid, schedule_type, cron_expr, execute_time, time_range_type, range_offset_start, range_offset_end, format, options_json, enabled, last_run, next_run, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, chat_type=excluded.chat_type, peer_uid=excluded.peer_uid,
				schedule_type=excluded.schedule_type, cron_expr=excluded.cron_expr,
				execute_time=excluded.execute_time, time_range_type=excluded.time_range_type,
				range_offset_start=excluded.range_offset_start, range_offset_end=excluded.range_offset_end,
				format=excluded.format, options_json=excluded.options_json, enabled=excluded.enabled,
				last_run=excluded.last_run, next_run=excluded.next_run, updated_at=excluded.updated_at`,
			se.ID, se.Name, se.ChatType, se.PeerUID, se.ScheduleType, nullableString(se.CronExpr),
			nullableString(se.ExecuteTime), se.TimeRangeType, se.RangeOffsetStart, se.RangeOffsetEnd,
			se.Format, nullableString(se.OptionsJSON), boolToInt(se.Enabled), lastRun, nextRun,
			se.CreatedAt.Unix(), se.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert scheduled_export: %w", err)
		}
		return nil
	})
}

// DeleteScheduledExport removes a scheduled export. Execution history rows
// referencing it are left in place as an audit trail.
func (s *Store) DeleteScheduledExport(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM scheduled_export WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete scheduled_export: %w", err)
		}
		return nil
	})
}

// ListScheduledExports reads directly from readDB since scheduled exports
// are not cached in memory, unlike tasks.
func (s *Store) ListScheduledExports(ctx context.Context) ([]*ScheduledExport, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, name, chat_type, peer_uid, schedule_type, cron_expr, execute_time, time_range_type, range_offset_start, range_offset_end, format, options_json, enabled, last_run, next_run, created_at, updated_at
		FROM scheduled_export ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled_export: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledExport
	for rows.Next() {
		var se ScheduledExport
		var cronExpr, executeTime, optionsJSON sql.NullString
		var lastRun, nextRun sql.NullInt64
		var enabled int
		var createdAt, updatedAt int64
		if err := rows.Scan(&se.ID, &se.Name, &se.ChatType, &se.PeerUID, &se.ScheduleType,
			&cronExpr, &executeTime, &se.TimeRangeType, &se.RangeOffsetStart, &se.RangeOffsetEnd,
			&se.Format, &optionsJSON, &enabled, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		se.CronExpr = cronExpr.String
		se.ExecuteTime = executeTime.String
		se.OptionsJSON = optionsJSON.String
		se.Enabled = enabled != 0
		se.CreatedAt = time.Unix(createdAt, 0)
		se.UpdatedAt = time.Unix(updatedAt, 0)
		if lastRun.Valid {
			t := time.Unix(lastRun.Int64, 0)
			se.LastRun = &t
		}
		if nextRun.Valid {
			t := time.Unix(nextRun.Int64, 0)
			se.NextRun = &t
		}
		out = append(out, &se)
	}
	return out, rows.Err()
}

// AppendExecutionHistory records a run and trims the per-schedule history
// to the last 100 rows.
func (s *Store) AppendExecutionHistory(ctx context.Context, h *ExecutionHistory) error {
	return s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_history (id, scheduled_export_id, executed_at, status, message_count, file_path, file_size, error, duration_ms)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			h.ID, h.ScheduledExportID, h.ExecutedAt.Unix(), h.Status, h.MessageCount,
			nullableString(h.FilePath), h.FileSize, nullableString(h.Error), h.DurationMs,
		); err != nil {
			return fmt.Errorf("insert execution_history: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM execution_history WHERE scheduled_export_id = ? AND id NOT IN (
				SELECT id FROM execution_history WHERE scheduled_export_id = ? ORDER BY executed_at DESC LIMIT 100
			)`, h.ScheduledExportID, h.ScheduledExportID,
		); err != nil {
			return fmt.Errorf("trim execution_history: %w", err)
		}

		return tx.Commit()
	})
}

// ListExecutionHistory reads the most recent runs for a scheduled export.
func (s *Store) ListExecutionHistory(ctx context.Context, scheduledExportID string, limit int) ([]*ExecutionHistory, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, scheduled_export_id, executed_at, status, message_count, file_path, file_size, error, duration_ms
		FROM execution_history WHERE scheduled_export_id = ? ORDER BY executed_at DESC LIMIT ?`,
		scheduledExportID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution_history: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionHistory
	for rows.Next() {
		var h ExecutionHistory
		var filePath, errStr sql.NullString
		var executedAt int64
		if err := rows.Scan(&h.ID, &h.ScheduledExportID, &executedAt, &h.Status, &h.MessageCount,
			&filePath, &h.FileSize, &errStr, &h.DurationMs); err != nil {
			return nil, err
		}
		h.FilePath = filePath.String
		h.Error = errStr.String
		h.ExecutedAt = time.Unix(executedAt, 0)
		out = append(out, &h)
	}
	return out, rows.Err()
}
