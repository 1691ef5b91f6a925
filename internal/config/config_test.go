package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, []string{"biologic"}, cfg.DefaultFormats)
	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.0, cfg.Biologic.MinVoltageV)
	assert.Equal(t, 5.0, cfg.Biologic.MaxVoltageV)
	assert.Equal(t, "C:/tomato_data/", cfg.Tomato.OutputPath)
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir()) // no cyclekit.yaml around

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CYCLEKIT_OUTPUT_DIR", "/tmp/artifacts")
	t.Setenv("CYCLEKIT_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/artifacts", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	content := `
default_formats:
  - neware
  - tomato
output_dir: exports
biologic:
  max_voltage_V: 4.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cyclekit.yaml"), []byte(content), 0o644))

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"neware", "tomato"}, cfg.DefaultFormats)
	assert.Equal(t, "exports", cfg.OutputDir)
	assert.Equal(t, 4.5, cfg.Biologic.MaxVoltageV)
	// Unset keys keep their defaults.
	assert.Equal(t, 0.0, cfg.Biologic.MinVoltageV)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoader_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))
	t.Setenv("CYCLEKIT_CONFIG_PATH", path)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoader_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: [unterminated\n"), 0o644))
	t.Setenv("CYCLEKIT_CONFIG_PATH", path)

	_, err := NewLoader().Load()
	require.Error(t, err)
}
