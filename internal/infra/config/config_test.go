package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "http://127.0.0.1:1234", cfg.Server.BaseURL)
	assert.Equal(t, 30, cfg.Server.StreamTimeoutSeconds)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.True(t, cfg.Generation.HideThinking)
	assert.True(t, cfg.Generation.AutoTitles)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.NotEmpty(t, cfg.History.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.BaseURL, cfg.Server.BaseURL)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  base_url: http://127.0.0.1:8080
generation:
  temperature: 0.2
  hide_thinking: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080", cfg.Server.BaseURL)
	assert.Equal(t, 0.2, cfg.Generation.Temperature)
	assert.False(t, cfg.Generation.HideThinking)
	// Untouched fields keep their defaults.
	assert.Equal(t, 30, cfg.Server.StreamTimeoutSeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOCALCHAT_BASE_URL", "http://10.0.0.5:1234")
	t.Setenv("LOCALCHAT_MODEL", "qwen3-8b")
	t.Setenv("LOCALCHAT_STREAM_TIMEOUT", "45")
	t.Setenv("LOCALCHAT_LOG_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "http://10.0.0.5:1234", cfg.Server.BaseURL)
	assert.Equal(t, "qwen3-8b", cfg.Generation.Model)
	assert.Equal(t, 45, cfg.Server.StreamTimeoutSeconds)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestApplyEnvOverridesIgnoresBadTimeout(t *testing.T) {
	t.Setenv("LOCALCHAT_STREAM_TIMEOUT", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, 30, cfg.Server.StreamTimeoutSeconds)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(cfg *Config) {}, true},
		{"empty base url", func(cfg *Config) { cfg.Server.BaseURL = "" }, false},
		{"bad scheme", func(cfg *Config) { cfg.Server.BaseURL = "ftp://host" }, false},
		{"not a url", func(cfg *Config) { cfg.Server.BaseURL = "://" }, false},
		{"zero timeout", func(cfg *Config) { cfg.Server.StreamTimeoutSeconds = 0 }, false},
		{"temperature too high", func(cfg *Config) { cfg.Generation.Temperature = 2.5 }, false},
		{"negative max tokens", func(cfg *Config) { cfg.Generation.MaxTokens = -1 }, false},
		{"unknown log level", func(cfg *Config) { cfg.Logger.Level = "loud" }, false},
		{"unknown log format", func(cfg *Config) { cfg.Logger.Format = "xml" }, false},
		{"unknown exporter", func(cfg *Config) { cfg.Tracer.Exporter = "jaeger" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSettingsAccessors(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.MaxTokens = 2048
	s := NewSettings(cfg)

	assert.True(t, s.HideThinking())
	assert.True(t, s.AutoGenerateTitles())
	assert.Equal(t, 0.7, s.Temperature())
	assert.Equal(t, 30*time.Second, s.StreamTimeout())
	assert.Equal(t, 2048, s.MaxTokens())
}
