package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, 20, cfg.Memory.STMCapacity)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Memory.DBPath)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.json")

	raw := `{
		"memory": {"stm_capacity": 50, "retention_days": 7},
		"embedding": {"provider": "local", "dimension": 384},
		"logging": {"level": "debug"},
		"data_dir": "` + dir + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Memory.STMCapacity)
	assert.Equal(t, 7, cfg.Memory.RetentionDays)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unspecified fields keep defaults.
	assert.Equal(t, int64(256), cfg.Memory.MaxStorageMB)
	assert.Equal(t, filepath.Join(dir, "memory.db"), cfg.Memory.DBPath)
}

func TestLoader_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cortex.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Memory.STMCapacity = 33
	cfg.Embedding.Provider = "local"

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 33, loaded.Memory.STMCapacity)
	assert.Equal(t, "local", loaded.Embedding.Provider)
}

func TestLoader_GetConfigPath(t *testing.T) {
	loader := NewLoader("/etc/cortex.json")
	assert.Equal(t, "/etc/cortex.json", loader.GetConfigPath())

	assert.NotEmpty(t, NewLoader("").GetConfigPath())
}
