package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the structural contract for the config file. Field
// semantics (cross-field rules, required keys by mode) are checked by
// Config.Validate after unmarshaling.
const configSchema = `{
	"type": "object",
	"properties": {
		"memory": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"db_path": {"type": "string"},
				"stm_capacity": {"type": "integer", "minimum": 1},
				"max_storage_mb": {"type": "integer", "minimum": 0},
				"retention_days": {"type": "integer", "minimum": 0},
				"warn_threshold": {"type": "number", "minimum": 0, "maximum": 1},
				"cross_session": {"type": "boolean"},
				"breaker_threshold": {"type": "integer", "minimum": 1},
				"breaker_cooldown_seconds": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		},
		"embedding": {
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["openai", "local"]},
				"api_key": {"type": "string"},
				"model": {"type": "string"},
				"dimension": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		},
		"sweep": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"schedule": {"type": "string"}
			},
			"additionalProperties": false
		},
		"metrics": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"addr": {"type": "string"}
			},
			"additionalProperties": false
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"max_size": {"type": "integer", "minimum": 1},
				"max_age": {"type": "integer", "minimum": 1},
				"compress": {"type": "boolean"},
				"redaction": {"type": "boolean"}
			},
			"additionalProperties": false
		},
		"data_dir": {"type": "string"}
	},
	"additionalProperties": false
}`

// Validator validates configuration values
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator creates a new validator
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateFile checks a config file against the schema before it is
// unmarshaled, so typos in key names fail loudly instead of silently
// falling back to defaults.
func (v *Validator) ValidateFile(path string) []error {
	data, err := os.ReadFile(path)
	if err != nil {
		return []error{fmt.Errorf("read config file: %w", err)}
	}
	return v.ValidateJSON(data)
}

// ValidateJSON checks raw config JSON against the schema.
func (v *Validator) ValidateJSON(data []byte) []error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []error{fmt.Errorf("validate config: %w", err)}
	}

	var errs []error
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Errorf("config %s: %s", desc.Field(), desc.Description()))
	}
	return errs
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if cfg.Memory.Enabled && cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Embedding.APIKey, "openai"); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
