package config

import (
	"time"

	"localchat/internal/domain"
)

// Settings adapts a Config to the domain.Settings interface consumed by the
// generation core.
type Settings struct {
	cfg *Config
}

var _ domain.Settings = (*Settings)(nil)

// NewSettings wraps cfg as live settings.
func NewSettings(cfg *Config) *Settings {
	return &Settings{cfg: cfg}
}

func (s *Settings) HideThinking() bool { return s.cfg.Generation.HideThinking }
func (s *Settings) AutoGenerateTitles() bool { return s.cfg.Generation.AutoTitles }
func (s *Settings) Temperature() float64 { return s.cfg.Generation.Temperature }
func (s *Settings) StreamTimeout() time.Duration { return s.cfg.Server.StreamTimeout() }
func (s *Settings) MaxTokens() int { return s.cfg.Generation.MaxTokens }
