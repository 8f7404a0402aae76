package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, 10, cfg.Session.MaxTurns)
	assert.Equal(t, 60, cfg.Session.TimeoutMinutes)
	assert.Equal(t, 120, cfg.Session.CommandTimeoutSeconds)
	assert.Equal(t, 64*1024, cfg.Session.MaxCommandOutputBytes)
	assert.Equal(t, 16, cfg.Snapshot.MaxDepth)
	assert.Equal(t, int64(1024*1024), cfg.Snapshot.MaxFileSize)
	assert.Equal(t, "codesweep", cfg.Events.SubjectPrefix)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
  format: console
session:
  max_retries: 5
  verification_commands:
    - go test ./...
    - go vet ./...
snapshot:
  max_depth: 4
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Session.MaxRetries)
	assert.Equal(t, []string{"go test ./...", "go vet ./..."}, cfg.Session.VerificationCommands)
	assert.Equal(t, 4, cfg.Snapshot.MaxDepth)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CODESWEEP_SESSION_MAX_RETRIES", "7")
	t.Setenv("CODESWEEP_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "session:\n  max_retries: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Session.MaxRetries)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: shouty\n"))
	assert.Error(t, err)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
}
