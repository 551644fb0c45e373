package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Cortex configuration
type Config struct {
	// Memory engine
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Retention sweep
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// MemoryConfig holds the memory engine tunables
type MemoryConfig struct {
	Enabled          bool    `json:"enabled" mapstructure:"enabled"`
	DBPath           string  `json:"db_path" mapstructure:"db_path"`
	STMCapacity      int     `json:"stm_capacity" mapstructure:"stm_capacity"`
	MaxStorageMB     int64   `json:"max_storage_mb" mapstructure:"max_storage_mb"`
	RetentionDays    int     `json:"retention_days" mapstructure:"retention_days"`
	WarnThreshold    float64 `json:"warn_threshold" mapstructure:"warn_threshold"`
	CrossSession     bool    `json:"cross_session" mapstructure:"cross_session"`
	BreakerThreshold uint32  `json:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownS int     `json:"breaker_cooldown_seconds" mapstructure:"breaker_cooldown_seconds"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, local
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// SweepConfig holds retention sweep scheduling
type SweepConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron syntax
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Enabled:          true,
			STMCapacity:      20,
			MaxStorageMB:     256,
			RetentionDays:    90,
			WarnThreshold:    0.8,
			BreakerThreshold: 5,
			BreakerCooldownS: 30,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "0 3 * * *",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9187",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Memory.Enabled {
		if c.Memory.STMCapacity < 1 {
			return fmt.Errorf("memory stm_capacity must be at least 1, got %d", c.Memory.STMCapacity)
		}
		if c.Memory.MaxStorageMB < 0 {
			return fmt.Errorf("memory max_storage_mb must be >= 0, got %d", c.Memory.MaxStorageMB)
		}
		if c.Memory.RetentionDays < 0 {
			return fmt.Errorf("memory retention_days must be >= 0, got %d", c.Memory.RetentionDays)
		}
		if c.Memory.WarnThreshold < 0 || c.Memory.WarnThreshold > 1 {
			return fmt.Errorf("memory warn_threshold must be between 0 and 1, got %f", c.Memory.WarnThreshold)
		}
		if c.Memory.BreakerThreshold == 0 {
			return fmt.Errorf("memory breaker_threshold must be at least 1")
		}
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Memory.Enabled && c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding api_key is required for the openai provider")
		}
	case "local":
	default:
		return fmt.Errorf("invalid embedding provider %q (must be: openai, local)", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep schedule is required when the sweep is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}
