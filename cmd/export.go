package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/bus"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/export"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/orchestrator"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/scheduler"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

var exportFlags struct {
	chatType   string
	peerUID    string
	chatName   string
	formats    string
	rangeType  string
	startMs    int64
	endMs      int64
	outputDir  string
	pretty     bool
	includeSys bool
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run a one-shot chat export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport()
		},
	}

	cmd.Flags().StringVar(&exportFlags.chatType, "chat-type", string(upstream.ChatTypeGroup), "group or private")
	cmd.Flags().StringVar(&exportFlags.peerUID, "peer-uid", "", "group or friend uid to export (required)")
	cmd.Flags().StringVar(&exportFlags.chatName, "chat-name", "", "display name stamped into the export header")
	cmd.Flags().StringVar(&exportFlags.formats, "formats", "json", "comma-separated export formats: json,txt,html")
	cmd.Flags().StringVar(&exportFlags.rangeType, "range", scheduler.RangeYesterday, "yesterday|last-week|last-month|last-7-days|last-30-days|custom")
	cmd.Flags().Int64Var(&exportFlags.startMs, "start-ms", 0, "window start, unix millis (range=custom only)")
	cmd.Flags().Int64Var(&exportFlags.endMs, "end-ms", 0, "window end, unix millis (range=custom only)")
	cmd.Flags().StringVar(&exportFlags.outputDir, "output-dir", "", "export output directory (default: storage.export_root)")
	cmd.Flags().BoolVar(&exportFlags.pretty, "pretty", true, "pretty-print JSON output")
	cmd.Flags().BoolVar(&exportFlags.includeSys, "include-system-messages", false, "include system/notice messages")
	_ = cmd.MarkFlagRequired("peer-uid")

	return cmd
}

func runExport() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter := buildAdapter(cfg)
	ctx := context.Background()

	store, err := taskstore.Open(ctx, config.ExpandHome(cfg.TaskStore.Path))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	events := bus.New()
	orch := orchestrator.New(adapter, store, events, buildResourceConfig(cfg))

	startMs, endMs, err := windowFromFlags(exportFlags.rangeType, exportFlags.startMs, exportFlags.endMs)
	if err != nil {
		return err
	}

	outputDir := exportFlags.outputDir
	if outputDir == "" {
		outputDir = config.ExpandHome(cfg.Storage.ExportRoot)
	}

	chatName := exportFlags.chatName
	if chatName == "" {
		nameCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ref := upstream.ChatRef{ChatType: upstream.ChatType(exportFlags.chatType), PeerUID: exportFlags.peerUID}
		if name, err := adapter.ResolveDisplayName(nameCtx, ref); err == nil && name != "" {
			chatName = name
		}
		cancel()
	}
	if chatName == "" {
		chatName = exportFlags.peerUID
	}

	task := &taskstore.ExportTask{
		TaskID:          uuid.Must(uuid.NewV7()).String(),
		ChatType:        exportFlags.chatType,
		PeerUID:         exportFlags.peerUID,
		ChatName:        chatName,
		FormatsCSV:      exportFlags.formats,
		WindowStartMs:   startMs,
		WindowEndMs:     endMs,
		IncludeResLinks: true,
		BatchSize:       cfg.Fetch.BatchSize,
		TimeoutMs:       int64(cfg.Bridge.TimeoutSec) * 1000,
		RetryCount:      cfg.Fetch.MaxRetries,
		OutputDir:       outputDir,
	}

	events.Subscribe("cli", func(ev bus.Event) {
		if payload, ok := ev.Payload.(bus.ExportEventPayload); ok {
			fmt.Printf("[%s] %d%% %s\n", payload.Status, payload.Progress, payload.Message)
		}
	})

	opts := export.Options{Pretty: exportFlags.pretty, IncludeSystemMessages: exportFlags.includeSys}
	if err := orch.RunExport(ctx, task, opts); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("export %s complete\n", task.TaskID)
	return nil
}

// windowFromFlags resolves the export window the same way a scheduled
// trigger would, so one-shot CLI exports and schedules agree on range
// semantics.
func windowFromFlags(rangeType string, startMs, endMs int64) (int64, int64, error) {
	if rangeType == scheduler.RangeCustom {
		if startMs == 0 && endMs == 0 {
			return 0, 0, fmt.Errorf("export: --range=custom requires --start-ms/--end-ms")
		}
		return startMs, endMs, nil
	}
	return scheduler.ComputeWindow(rangeType, time.Now(), 0, 0)
}
