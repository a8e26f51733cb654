package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upgrade"
)

// migrate wraps the task store's own idempotent schema bootstrap. There is
// no separate migration file format: internal/taskstore's DDL is additive
// and self-versioning via internal/upgrade's schema_migrations table.

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Task store schema management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func resolveTaskStorePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return config.ExpandHome(cfg.TaskStore.Path), nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Create or upgrade the task store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveTaskStorePath()
			if err != nil {
				return err
			}

			store, err := taskstore.Open(context.Background(), path)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			defer store.Close()

			slog.Info("task store schema up to date", "path", path, "version", upgrade.RequiredSchemaVersion)
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task store schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveTaskStorePath()
			if err != nil {
				return err
			}

			if _, statErr := os.Stat(path); statErr != nil {
				fmt.Printf("no task store at %s yet (run: qq-chat-exporter migrate up)\n", path)
				return nil
			}

			db, err := sql.Open("sqlite", path)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer db.Close()

			status, err := upgrade.CheckSchema(db)
			if err != nil {
				return fmt.Errorf("check schema: %w", err)
			}
			if status.Dirty || status.NeedsMigration || !status.Compatible {
				fmt.Print(upgrade.FormatError(status))
				return nil
			}
			fmt.Printf("schema version: %d (up to date)\n", status.CurrentVersion)
			return nil
		},
	}
}
