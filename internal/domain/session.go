package domain

import (
	"context"
	"time"
)

// GenerationSession is the ephemeral state of the single in-flight
// generation. At most one live instance exists process-wide; it is created
// at generation start and destroyed on completion, cancellation, or error.
// Never persisted.
type GenerationSession struct {
	ID                string // ULID
	ChatID            ChatID
	Cancel            context.CancelFunc
	Accumulated       string
	InThinking        bool
	ThinkingStartedAt time.Time
	LastChunkAt       time.Time
	StartedAt         time.Time
}

// ThinkingElapsed returns how long the current thinking segment has been
// open, or 0 when not thinking.
func (s *GenerationSession) ThinkingElapsed(now time.Time) time.Duration {
	if !s.InThinking || s.ThinkingStartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ThinkingStartedAt)
}
