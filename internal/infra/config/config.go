package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	History    HistoryConfig    `yaml:"history"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// ServerConfig holds inference server connection settings.
type ServerConfig struct {
	// BaseURL of the OpenAI-compatible server, without the /v1 suffix.
	// Uses an explicit IPv4 address to avoid IPv6 resolution issues with
	// "localhost" on some platforms.
	BaseURL string `yaml:"base_url"`
	// StreamTimeoutSeconds bounds time-to-first-byte-or-stall.
	StreamTimeoutSeconds int `yaml:"stream_timeout_seconds"`
}

// GenerationConfig holds generation behaviour settings.
type GenerationConfig struct {
	Model        string  `yaml:"model"` // empty = first model from /v1/models
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"` // 0 = unlimited
	HideThinking bool    `yaml:"hide_thinking"`
	AutoTitles   bool    `yaml:"auto_titles"`
}

// HistoryConfig holds chat history persistence settings.
type HistoryConfig struct {
	Path string `yaml:"path"` // SQLite database path
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:              "http://127.0.0.1:1234",
			StreamTimeoutSeconds: 30,
		},
		Generation: GenerationConfig{
			Temperature:  0.7,
			HideThinking: true,
			AutoTitles:   true,
		},
		History: HistoryConfig{
			Path: defaultHistoryPath(),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "localchat.db"
	}
	return filepath.Join(dir, "localchat", "history.db")
}

// Load reads the config file at path, merging it over defaults and applying
// environment overrides. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps LOCALCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOCALCHAT_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("LOCALCHAT_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("LOCALCHAT_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("LOCALCHAT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOCALCHAT_STREAM_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.StreamTimeoutSeconds = n
		}
	}
}

// StreamTimeout returns the stream timeout as a duration.
func (s ServerConfig) StreamTimeout() time.Duration {
	return time.Duration(s.StreamTimeoutSeconds) * time.Second
}
