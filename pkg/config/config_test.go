package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Experiment.MaxActive)
	assert.Equal(t, 24*time.Hour, cfg.Experiment.MinimumDuration)
	assert.Equal(t, 0.95, cfg.Experiment.AutoDeployThreshold)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/test.db
experiment:
  max_active: 3
  minimum_duration: 1h
mining:
  lookback_days: 7
bus:
  enabled: true
  url: nats://broker:4222
agent_version: "2.1.0"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Experiment.MaxActive)
	assert.Equal(t, time.Hour, cfg.Experiment.MinimumDuration)
	assert.Equal(t, 7, cfg.Mining.LookbackDays)
	assert.True(t, cfg.Bus.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.Bus.URL)
	assert.Equal(t, "2.1.0", cfg.AgentVersion)

	// Omitted fields keep their defaults.
	assert.Equal(t, 0.95, cfg.Experiment.AutoDeployThreshold)
	assert.Equal(t, 10, cfg.Mining.MinSampleSize)
	assert.Equal(t, "logs", cfg.Logging.Dir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: from-file.db\n"), 0o644))
	t.Setenv("PITCHLAB_DB_PATH", "from-env.db")
	t.Setenv("PITCHLAB_BUS_URL", "nats://env:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "nats://env:4222", cfg.Bus.URL)
	assert.True(t, cfg.Bus.Enabled)
}

func TestLoad_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("PITCHLAB_DB_PATH", "env-only.db")
	t.Setenv("PITCHLAB_LOG_DIR", "/var/log/pitchlab")
	t.Setenv("PITCHLAB_AGENT_VERSION", "3.0.0")

	for name, path := range map[string]string{
		"empty path":   "",
		"missing file": filepath.Join(t.TempDir(), "absent.yaml"),
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "env-only.db", cfg.Database.Path)
			assert.Equal(t, "/var/log/pitchlab", cfg.Logging.Dir)
			assert.Equal(t, "3.0.0", cfg.AgentVersion)
		})
	}
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
