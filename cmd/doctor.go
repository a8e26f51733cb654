package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upgrade"
	"github.com/nextlevelbuilder/qq-chat-exporter/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("qq-chat-exporter doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Bridge:")
	fmt.Printf("    %-20s %s\n", "Base URL:", cfg.Bridge.BaseURL)
	checkBridge(cfg)

	fmt.Println()
	fmt.Println("  Task store:")
	dbPath := config.ExpandHome(cfg.TaskStore.Path)
	fmt.Printf("    %-20s %s\n", "Path:", dbPath)
	checkTaskStoreSchema(dbPath)

	fmt.Println()
	fmt.Println("  Storage:")
	checkDir("Resource root", config.ExpandHome(cfg.Storage.ResourceRoot))
	checkDir("Export root", config.ExpandHome(cfg.Storage.ExportRoot))

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkBridge(cfg *config.Config) {
	client := buildAdapter(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.ListGroups(ctx); err != nil {
		fmt.Printf("    %-20s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-20s reachable\n", "Status:")
}

func checkTaskStoreSchema(path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-20s not created yet (run: qq-chat-exporter migrate up)\n", "Schema:")
		return
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Printf("    %-20s OPEN FAILED (%s)\n", "Schema:", err)
		return
	}
	defer db.Close()

	status, err := upgrade.CheckSchema(db)
	if err != nil {
		fmt.Printf("    %-20s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	switch {
	case status.Dirty:
		fmt.Printf("    %-20s v%d (DIRTY)\n", "Schema:", status.CurrentVersion)
	case status.Compatible:
		fmt.Printf("    %-20s v%d (up to date)\n", "Schema:", status.CurrentVersion)
	case status.NeedsMigration:
		fmt.Printf("    %-20s v%d (upgrade needed — run: qq-chat-exporter migrate up)\n", "Schema:", status.CurrentVersion)
	default:
		fmt.Printf("    %-20s v%d (binary too old, requires v%d)\n", "Schema:", status.CurrentVersion, status.RequiredVersion)
	}
}

func checkDir(label, path string) {
	fmt.Printf("    %-20s %s", label+":", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (will be created on first use)")
	} else {
		fmt.Println(" (OK)")
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
