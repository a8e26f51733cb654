package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
)

func resourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Manage the downloaded-media cache",
	}
	cmd.AddCommand(resourcesGCCmd())
	return cmd
}

func resourcesGCCmd() *cobra.Command {
	var olderThanDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete cached resources not checked within the TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if olderThanDays <= 0 {
				olderThanDays = cfg.Resource.CacheTTLHours / 24
			}
			if olderThanDays <= 0 {
				olderThanDays = 30
			}

			ctx := context.Background()
			store, err := taskstore.Open(ctx, config.ExpandHome(cfg.TaskStore.Path))
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()

			cutoff := time.Now().AddDate(0, 0, -olderThanDays)
			expired, err := store.ListExpiredResources(ctx, cutoff)
			if err != nil {
				return err
			}
			if len(expired) == 0 {
				fmt.Println("(nothing to clean up)")
				return nil
			}

			removed := 0
			for _, r := range expired {
				if r.LocalPath == "" {
					continue
				}
				if dryRun {
					fmt.Printf("would remove %s\n", r.LocalPath)
					continue
				}
				if err := os.Remove(r.LocalPath); err != nil && !os.IsNotExist(err) {
					fmt.Printf("skip %s: %s\n", r.LocalPath, err)
					continue
				}
				removed++
			}
			if dryRun {
				fmt.Printf("%d resources eligible (dry run, nothing deleted)\n", len(expired))
				return nil
			}

			deleted, err := store.DeleteExpiredResources(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d files, deleted %d resource records\n", removed, deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "age threshold in days (default: resource.cache_ttl_hours/24)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be removed without deleting")
	return cmd
}
