package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ffmpeg", cfg.Transcoding.EncoderTool)
	assert.Equal(t, "ffprobe", cfg.Transcoding.ProbeTool)
	assert.True(t, cfg.Transcoding.EnableABR)
	assert.Equal(t, "auto", cfg.Hardware.PreferHWAccel)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
transcoding:
  max_concurrent_jobs: 3
  retry_count: 5
log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Transcoding.MaxConcurrentJobs)
	assert.Equal(t, 5, cfg.Transcoding.RetryCount)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvVarsOverrideFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("TRANSCODESERVER_SERVER_PORT", "7070")
	t.Setenv("TRANSCODESERVER_SECURITY_API_KEY", "env-secret")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Security.APIKey)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 70000\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RejectsBlankTempDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("transcoding:\n  temp_directory: \"\"\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
