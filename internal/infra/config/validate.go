package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks cfg for values that would misbehave at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url must not be empty")
	}
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", cfg.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url scheme must be http or https, got %q", u.Scheme)
	}

	if cfg.Server.StreamTimeoutSeconds <= 0 {
		return fmt.Errorf("server.stream_timeout_seconds must be positive, got %d", cfg.Server.StreamTimeoutSeconds)
	}

	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be in [0, 2], got %g", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens must not be negative, got %d", cfg.Generation.MaxTokens)
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("logger.level %q is not a known level", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		return fmt.Errorf("logger.format %q must be text or json", cfg.Logger.Format)
	}

	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		return fmt.Errorf("tracer.exporter %q must be stdout or noop", cfg.Tracer.Exporter)
	}

	return nil
}
