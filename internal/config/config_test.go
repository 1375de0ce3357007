package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.EqualValues(t, 60_000, cfg.Engine.MinTimeLimitMs)
	assert.Equal(t, 1000, cfg.Engine.MaxObserversPerUID)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
engine:
  min_time_limit_ms: 120000
  max_observers_per_uid: 50
server:
  port: 9090
log:
  format: text
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 120_000, cfg.Engine.MinTimeLimitMs)
	assert.Equal(t, 50, cfg.Engine.MaxObserversPerUID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresAuditPathWhenEnabled(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Audit.DBPath = ""
	assert.Error(t, cfg.Validate())
}

func TestToCoreConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	core := cfg.ToCoreConfig()
	assert.Equal(t, cfg.Engine.MinTimeLimitMs, core.MinTimeLimitMs)
	assert.Equal(t, cfg.Engine.MaxObserversPerUID, core.MaxObserversPerUID)
}
