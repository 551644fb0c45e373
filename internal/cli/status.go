package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long:  `Show whether a serve process is running and summarize the store.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		data, _ := os.ReadFile(pidFile)
		fmt.Printf("Serve process: running (PID %s)\n", string(data))
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Println("Serve process: stopped")
	}

	return withManager(func(env *engineEnv) error {
		stats, err := env.manager.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Working set: %d/%d notes\n", stats.STMCount, stats.STMCapacity)
		fmt.Printf("Long-term: %d notes, %d bytes (limit %d)\n", stats.LTMCount, stats.LTMBytes, stats.MaxBytes)
		fmt.Printf("Breakers: embedder=%s storage=%s\n", stats.EmbedBreaker, stats.StorageBreaker)
		return nil
	})
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
