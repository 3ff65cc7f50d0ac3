package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultStatePath, cfg.Storage.Path)
	assert.Equal(t, 10, cfg.Policy.MaxRemovals)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reign.yaml", `
storage:
  driver: badger
  path: /var/lib/reign/state
  busy_timeout: 2s
policy:
  enabled: false
  paths: [./policies]
  max_removals: 3
logging:
  level: debug
  format: json
metrics:
  namespace: infra
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/reign/state", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Storage.BusyTimeout)
	assert.True(t, cfg.Storage.SyncWrites, "unset keys keep their defaults")
	assert.False(t, cfg.Policy.Enabled)
	assert.Equal(t, []string{"./policies"}, cfg.Policy.Paths)
	assert.Equal(t, 3, cfg.Policy.MaxRemovals)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "json", cfg.Telemetry.Logging.Format)
	assert.Equal(t, "infra", cfg.Telemetry.Metrics.Namespace)
	assert.Equal(t, "reign-state", cfg.Telemetry.ServiceName)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REIGN_STORAGE_PATH", "/tmp/from-env.db")
	t.Setenv("REIGN_LOGGING_LEVEL", "warn")

	path := writeFile(t, t.TempDir(), "reign.yaml", "storage:\n  path: /tmp/from-file.db\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Telemetry.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown driver":    "storage:\n  driver: postgres\n",
		"empty path":        "storage:\n  path: \"\"\n",
		"negative removals": "policy:\n  max_removals: -1\n",
		"bad log level":     "logging:\n  level: loud\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "reign.yaml", content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestInMemoryNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = ""
	cfg.Storage.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentPresets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reign.yaml", "logging:\n  format: console\n")

	v, err := NewViperFor("production")
	require.NoError(t, err)
	cfg, err := LoadWith(v, path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Telemetry.Environment)
	assert.True(t, cfg.Telemetry.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Telemetry.Tracing.Exporter)
	assert.NotEmpty(t, cfg.Telemetry.Tracing.Endpoint)
	assert.Equal(t, "console", cfg.Telemetry.Logging.Format, "file settings override the preset")

	v, err = NewViperFor("development")
	require.NoError(t, err)
	cfg, err = LoadWith(v, path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.True(t, cfg.Telemetry.Logging.EnableCaller)

	_, err = NewViperFor("staging")
	assert.Error(t, err)
}
