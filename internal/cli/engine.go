package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/harun/cortex/internal/config"
	"github.com/harun/cortex/internal/logger"
	"github.com/harun/cortex/pkg/memory"
)

// loadConfig loads and validates the effective configuration, applying
// the --log-level override.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(cfgFile)

	if path := loader.GetConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			validator, err := config.NewValidator()
			if err != nil {
				return nil, err
			}
			if errs := validator.ValidateFile(path); len(errs) > 0 {
				return nil, fmt.Errorf("invalid config %s: %v", path, errs[0])
			}
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the CLI logger: console only, file logging is the
// serve command's business.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
}

// newProvider builds the configured embedding provider.
func newProvider(cfg *config.Config) (memory.EmbeddingProvider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return memory.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model), nil
	case "local":
		return memory.NewLocalProvider(cfg.Embedding.Dimension), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
}

// engineEnv bundles everything a command needs once the engine is open.
type engineEnv struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *memory.Manager
}

// withManager opens the engine, runs fn, and tears everything down.
func withManager(fn func(*engineEnv) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	m, err := openManager(cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(&engineEnv{cfg: cfg, log: log, manager: m})
}

// openManager wires up a memory manager from configuration.
func openManager(cfg *config.Config, log *logger.Logger) (*memory.Manager, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	mcfg := memory.Config{
		Enabled:          cfg.Memory.Enabled,
		DBPath:           cfg.Memory.DBPath,
		Dimension:        cfg.Embedding.Dimension,
		STMCapacity:      cfg.Memory.STMCapacity,
		MaxStorageBytes:  cfg.Memory.MaxStorageMB << 20,
		RetentionDays:    cfg.Memory.RetentionDays,
		WarnThreshold:    cfg.Memory.WarnThreshold,
		CrossSession:     cfg.Memory.CrossSession,
		BreakerThreshold: cfg.Memory.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Memory.BreakerCooldownS) * time.Second,
	}

	return memory.NewManager(mcfg, provider, log.GetZerolog())
}
