package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "engine"
log_level = "debug"

[engine]
scan_interval = "2s"
trigger_buffer = 64

[postgres]
dsn = "postgres://app:secret@db:5432/tradetrigger"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Engine.ScanInterval.Duration)
	assert.Equal(t, 64, cfg.Engine.TriggerBuffer)
	// Untouched sections keep their defaults.
	assert.Equal(t, 137, cfg.Polymarket.ChainID)
	assert.Equal(t, 10*time.Second, Defaults().Engine.ScanInterval.Duration)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"full\"\n"), 0o600))

	t.Setenv("TRADETRIGGER_MODE", "ingest")
	t.Setenv("TRADETRIGGER_REDIS_ADDR", "redis:6380")
	t.Setenv("TRADETRIGGER_ENGINE_SCAN_INTERVAL", "30s")
	t.Setenv("TRADETRIGGER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Engine.ScanInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Redis.Addr = ""
	cfg.Engine.Epsilon = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "epsilon")
}
