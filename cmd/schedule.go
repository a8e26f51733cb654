package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/scheduler"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled exports",
	}
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleCreateCmd())
	cmd.AddCommand(scheduleDeleteCmd())
	cmd.AddCommand(scheduleRunsCmd())
	return cmd
}

func openScheduleStore(ctx context.Context) (*taskstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return taskstore.Open(ctx, config.ExpandHome(cfg.TaskStore.Path))
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openScheduleStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			schedules, err := store.ListScheduledExports(ctx)
			if err != nil {
				return err
			}
			if len(schedules) == 0 {
				fmt.Println("(no scheduled exports)")
				return nil
			}
			for _, se := range schedules {
				status := "enabled"
				if !se.Enabled {
					status = "disabled"
				}
				trigger := se.ExecuteTime
				if se.ScheduleType == scheduler.ScheduleCustom {
					trigger = se.CronExpr
				}
				fmt.Printf("%s  %-20s %-8s %-6s %-13s %s  [%s]\n",
					se.ID, se.Name, se.ChatType, se.ScheduleType, se.TimeRangeType, trigger, status)
			}
			return nil
		},
	}
}

var scheduleCreateFlags struct {
	name         string
	chatType     string
	peerUID      string
	scheduleType string
	cronExpr     string
	executeTime  string
	rangeType    string
	format       string
}

func scheduleCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled export",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openScheduleStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			se := &taskstore.ScheduledExport{
				ID:            uuid.NewString(),
				Name:          scheduleCreateFlags.name,
				ChatType:      scheduleCreateFlags.chatType,
				PeerUID:       scheduleCreateFlags.peerUID,
				ScheduleType:  scheduleCreateFlags.scheduleType,
				CronExpr:      scheduleCreateFlags.cronExpr,
				ExecuteTime:   scheduleCreateFlags.executeTime,
				TimeRangeType: scheduleCreateFlags.rangeType,
				Format:        scheduleCreateFlags.format,
				Enabled:       true,
			}
			if err := store.UpsertScheduledExport(ctx, se); err != nil {
				return fmt.Errorf("create schedule: %w", err)
			}
			fmt.Printf("created schedule %s\n", se.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&scheduleCreateFlags.name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&scheduleCreateFlags.chatType, "chat-type", "group", "group or private")
	cmd.Flags().StringVar(&scheduleCreateFlags.peerUID, "peer-uid", "", "group or friend uid (required)")
	cmd.Flags().StringVar(&scheduleCreateFlags.scheduleType, "schedule-type", scheduler.ScheduleDaily, "daily, weekly, monthly, or custom")
	cmd.Flags().StringVar(&scheduleCreateFlags.cronExpr, "cron", "", "5-field cron expression (schedule-type=custom)")
	cmd.Flags().StringVar(&scheduleCreateFlags.executeTime, "execute-time", "00:00", `"HH:MM" trigger time (daily/weekly/monthly)`)
	cmd.Flags().StringVar(&scheduleCreateFlags.rangeType, "range", "yesterday", "yesterday|last-week|last-month|last-7-days|last-30-days")
	cmd.Flags().StringVar(&scheduleCreateFlags.format, "formats", "json", "comma-separated export formats")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("peer-uid")

	return cmd
}

func scheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openScheduleStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteScheduledExport(ctx, args[0]); err != nil {
				return fmt.Errorf("delete schedule: %w", err)
			}
			fmt.Printf("deleted schedule %s\n", args[0])
			return nil
		},
	}
}

func scheduleRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <id>",
		Short: "Show execution history for a scheduled export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openScheduleStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			history, err := store.ListExecutionHistory(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Println("(no runs recorded)")
				return nil
			}
			for _, h := range history {
				fmt.Printf("%s  %-8s msgs=%-6d %5dms  %s\n",
					h.ExecutedAt.Format("2006-01-02 15:04:05"), h.Status, h.MessageCount, h.DurationMs, h.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}
