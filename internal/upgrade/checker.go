package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the schema version this binary expects. Bump it
// whenever a new table/column is introduced and add a matching bootstrap
// step in internal/taskstore.
const RequiredSchemaVersion = 1

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// EnsureSchemaMigrationsTable creates the schema_migrations bookkeeping
// table if it does not already exist.
func EnsureSchemaMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty   INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Bootstrap records the current schema version for a freshly created
// database (one with no schema_migrations row yet).
func Bootstrap(ctx context.Context, db *sql.DB, version uint) error {
	if err := EnsureSchemaMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("count schema_migrations: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version)
	return err
}

// CheckSchema queries the schema_migrations table and compares against
// RequiredSchemaVersion to determine compatibility.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		// No row yet, or table doesn't exist: treat as a fresh database.
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}

	if dirty {
		return s, nil
	}

	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	default:
		// Schema is ahead — binary is too old.
	}

	return s, nil
}

// FormatError returns a user-friendly error message for the given status.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Task store schema is in a dirty state (version %d).\n"+
				"This usually means a prior upgrade failed partway.\n\n"+
				"  Fix: restore the database file from backup, or delete it to start fresh.\n",
			s.CurrentVersion,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Task store schema (v%d) is newer than this binary (requires v%d).\n"+
				"You may be running an older version of the exporter.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Task store schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: qq-chat-exporter migrate up\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
