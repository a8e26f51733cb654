package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/bus"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/gateway"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/orchestrator"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/scheduler"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway and scheduler as a long-lived service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reload cfg in place when the config file changes; a missing config
	// file just skips the watch. Only the export root is read from cfg per
	// scheduled run: the resource and scheduler settings below are copied
	// once at startup and a reload does not change them.
	if cfgPath := resolveConfigPath(); fileExists(cfgPath) {
		watcher, werr := config.NewWatcher(cfgPath, cfg)
		if werr != nil {
			slog.Warn("serve.config_watch_failed", "path", cfgPath, "error", werr)
		} else {
			defer watcher.Close()
		}
	}

	adapter := buildAdapter(cfg)

	store, err := taskstore.Open(ctx, config.ExpandHome(cfg.TaskStore.Path))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	if n, err := store.RecoverOrphanedTasks(ctx); err != nil {
		slog.Error("serve.recover_orphaned_failed", "error", err)
	} else if n > 0 {
		slog.Warn("serve.recovered_orphaned_tasks", "count", n)
	}

	events := bus.New()
	resourceCfg := buildResourceConfig(cfg)
	orch := orchestrator.New(adapter, store, events, resourceCfg)

	pollInterval, err := time.ParseDuration(cfg.Scheduler.PollInterval)
	if err != nil || pollInterval <= 0 {
		pollInterval = time.Minute
	}

	sched := scheduler.New(store, orch.RunExport, scheduler.Config{
		OutputDirFunc: func(se *taskstore.ScheduledExport) string {
			return config.ExpandHome(cfg.Storage.ExportRoot)
		},
		BatchSize:    cfg.Fetch.BatchSize,
		TimeoutMs:    int64(cfg.Bridge.TimeoutSec) * 1000,
		RetryCount:   cfg.Fetch.MaxRetries,
		PollInterval: pollInterval,
	})
	go sched.Run(ctx)

	go runResourceHealthScans(ctx, store, resourceCfg)

	server := gateway.NewServer(cfg, events)
	slog.Info("serve.starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runResourceHealthScans periodically re-checks every persisted downloaded
// resource against its file on disk, demoting rows whose backing file has
// gone missing or changed. Demotions are silent apart from a log line.
func runResourceHealthScans(ctx context.Context, store *taskstore.Store, rc resource.Config) {
	interval := rc.HealthCheckInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scanner := resource.New(nil, rc)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := store.ListExpiredResources(ctx, time.Now())
		if err != nil {
			slog.Warn("serve.health_scan_list_failed", "error", err)
			continue
		}

		for _, row := range rows {
			if row.Status != string(resource.StatusDownloaded) {
				continue
			}
			info := &resource.Info{
				Type: resource.Type(row.Type), FileName: row.FileName, FileSize: row.FileSize,
				MD5: row.MD5, LocalPath: row.LocalPath, Status: resource.StatusDownloaded,
			}
			scanner.RunHealthScan([]*resource.Info{info})
			row.Status = string(info.Status)
			row.Accessible = info.Accessible
			row.CheckedAt = info.CheckedAt
			row.LastError = info.LastError
			store.UpsertResource(row)
		}
	}
}
