package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/cortex/internal/config"
	"github.com/harun/cortex/internal/observability"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	redacted := *cfg
	if redacted.Embedding.APIKey != "" {
		redacted.Embedding.APIKey = "[REDACTED]"
	}
	fmt.Println(redacted.String())
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return err
	}

	observability.RecordConfigAudit(cmd.Context(), "config_initialized",
		map[string]interface{}{"path": path})
	fmt.Printf("Wrote %s\n", path)
	return nil
}
