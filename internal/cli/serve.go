package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/cortex/internal/logger"
	"github.com/harun/cortex/internal/observability"
	"github.com/harun/cortex/internal/tracing"
	"github.com/harun/cortex/pkg/memory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine in the foreground",
	Long: `Run the memory engine as a long-lived process: the retention
sweeper runs on its schedule and, when enabled, Prometheus metrics are
served over HTTP. Stop with SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}

	if err := tracing.InitOpenTelemetry("cortex", version); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	m, err := openManager(cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()

	var sweeper *memory.Sweeper
	if cfg.Sweep.Enabled && cfg.Memory.Enabled {
		sweeper, err = memory.NewSweeper(m, cfg.Sweep.Schedule, log.GetZerolog())
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	log.Info().Str("db", cfg.Memory.DBPath).Msg("Cortex running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	return nil
}

func getPIDFilePath(dataDir string) string {
	if dataDir != "" {
		return filepath.Join(dataDir, "cortex.pid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/cortex.pid"
	}
	return filepath.Join(home, ".cortex", "cortex.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func isRunning(pidFile string) bool {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}
