package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	errs := v.ValidateJSON([]byte(`{
		"memory": {"enabled": true, "stm_capacity": 10},
		"embedding": {"provider": "local", "dimension": 384}
	}`))
	assert.Empty(t, errs)
}

func TestValidator_ValidateJSON_RejectsUnknownKeys(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	// A typoed key must fail instead of silently using defaults.
	errs := v.ValidateJSON([]byte(`{"memory": {"stm_capcity": 10}}`))
	assert.NotEmpty(t, errs)
}

func TestValidator_ValidateJSON_RejectsBadValues(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"negative capacity", `{"memory": {"stm_capacity": -5}}`},
		{"bad provider", `{"embedding": {"provider": "cohere"}}`},
		{"bad log level", `{"logging": {"level": "verbose"}}`},
		{"threshold above one", `{"memory": {"warn_threshold": 2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, v.ValidateJSON([]byte(tt.raw)))
		})
	}
}

func TestValidator_ValidateAPIKey(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "openai"))
	assert.Error(t, v.ValidateAPIKey("not-a-key", "openai"))
}

func TestValidator_ValidateLogLevel(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidator_ValidateConfig(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cfg := validConfig()
	assert.Empty(t, v.ValidateConfig(cfg))

	cfg.Logging.Level = "silly"
	cfg.Embedding.APIKey = "wrong-format"
	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 2)
}
