package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "en-US", cfg.Capture.Language)
	assert.Equal(t, 16000, cfg.Capture.SampleRate)
	assert.Equal(t, "tts-1", cfg.Synthesis.OpenAIModel)
	assert.Equal(t, 3, cfg.Progress.PassThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  endpoint: "https://trainer.example.com/respond"
  timeout: 30s
capture:
  language: "de-DE"
session:
  silence_warn: 15s
  silence_hangup: 30s
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://trainer.example.com/respond", cfg.Engine.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "de-DE", cfg.Capture.Language)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 16000, cfg.Capture.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.Session.SilenceWarn)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/callflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.Timeout, cfg.Engine.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALLFLOW_ENGINE_ENDPOINT", "https://env.example.com")
	t.Setenv("CALLFLOW_ENGINE_TIMEOUT", "45s")
	t.Setenv("CALLFLOW_CAPTURE_SAMPLE_RATE", "8000")
	t.Setenv("CALLFLOW_PROGRESS_PASS_THRESHOLD", "5")
	t.Setenv("CALLFLOW_REDIS_ADDR", "localhost:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Engine.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 8000, cfg.Capture.SampleRate)
	assert.Equal(t, 5, cfg.Progress.PassThreshold)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  endpoint: from-file\n"), 0o644))

	t.Setenv("CALLFLOW_ENGINE_ENDPOINT", "from-env")
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Engine.Endpoint)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Endpoint = "https://trainer.example.com"
	require.NoError(t, cfg.Validate())

	missing := DefaultConfig()
	assert.ErrorContains(t, missing.Validate(), "engine.endpoint")

	bad := DefaultConfig()
	bad.Engine.Endpoint = "x"
	bad.Session.SilenceWarn = 30 * time.Second
	bad.Session.SilenceHangup = 20 * time.Second
	assert.ErrorContains(t, bad.Validate(), "silence_hangup")
}

func TestCustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}
