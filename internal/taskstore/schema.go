package taskstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upgrade"
)

const ddl = `
CREATE TABLE IF NOT EXISTS export_task (
	task_id TEXT PRIMARY KEY,
	chat_type TEXT NOT NULL,
	peer_uid TEXT NOT NULL,
	chat_name TEXT NOT NULL,
	formats_csv TEXT NOT NULL,
	window_start_ms INTEGER NOT NULL,
	window_end_ms INTEGER NOT NULL,
	include_recalled INTEGER NOT NULL DEFAULT 0,
	include_resource_links INTEGER NOT NULL DEFAULT 1,
	batch_size INTEGER NOT NULL,
	timeout_ms INTEGER NOT NULL,
	retry_count INTEGER NOT NULL,
	output_dir TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS export_task_state (
	task_id TEXT PRIMARY KEY REFERENCES export_task(task_id),
	status TEXT NOT NULL,
	progress_pct INTEGER NOT NULL DEFAULT 0,
	total_msgs INTEGER NOT NULL DEFAULT 0,
	processed_msgs INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 0,
	failure INTEGER NOT NULL DEFAULT 0,
	current_msg_id TEXT,
	start_time INTEGER,
	end_time INTEGER,
	error TEXT,
	speed_mps REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS resource (
	md5 TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	mime TEXT,
	original_url TEXT,
	local_path TEXT,
	status TEXT NOT NULL,
	accessible INTEGER NOT NULL DEFAULT 0,
	checked_at INTEGER,
	download_attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS scheduled_export (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	chat_type TEXT NOT NULL,
	peer_uid TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	cron_expr TEXT,
	execute_time TEXT,
	time_range_type TEXT NOT NULL,
	range_offset_start INTEGER,
	range_offset_end INTEGER,
	format TEXT NOT NULL,
	options_json TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run INTEGER,
	next_run INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_history (
	id TEXT PRIMARY KEY,
	scheduled_export_id TEXT NOT NULL REFERENCES scheduled_export(id),
	executed_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	file_path TEXT,
	file_size INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_execution_history_scheduled ON execution_history(scheduled_export_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_export_task_created ON export_task(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_resource_checked_at ON resource(checked_at);
`

// bootstrapSchema creates every table if absent, records the schema version
// via internal/upgrade when none is recorded yet, and runs pending data
// hooks. It does not compare an existing version against the required one.
func bootstrapSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("taskstore: create schema: %w", err)
	}
	if err := upgrade.Bootstrap(ctx, db, upgrade.RequiredSchemaVersion); err != nil {
		return fmt.Errorf("taskstore: bootstrap schema version: %w", err)
	}
	if _, err := upgrade.RunPendingHooks(ctx, db); err != nil {
		return fmt.Errorf("taskstore: run data hooks: %w", err)
	}
	return nil
}
