package domain

import (
	"strconv"
	"sync"
	"time"
)

// ChatID identifies a chat. It is the stringified creation-time epoch in
// milliseconds, so ids order by creation.
type ChatID string

// Millis returns the numeric value of the id, or 0 if it is malformed.
func (id ChatID) Millis() int64 {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ChatIDSource issues creation-time chat ids. Two chats created within the
// same millisecond still get distinct, increasing ids.
type ChatIDSource struct {
	mu   sync.Mutex
	last int64
}

// Next returns a fresh chat id for the given creation time.
func (s *ChatIDSource) Next(now time.Time) ChatID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ChatID(strconv.FormatInt(ms, 10))
}

// Chat is a persisted conversation: an ordered message sequence and an
// optional title. A nil Title means no title has been generated yet.
type Chat struct {
	Messages []Message `json:"messages"`
	Title    *string   `json:"title"`
}

// NewChat returns an empty chat.
func NewChat() *Chat {
	return &Chat{Messages: []Message{}}
}

// SetTitle stores the title with think-tag markup stripped. Stripping is
// applied on every write because escaped tag variants can resurface after
// format conversions.
func (c *Chat) SetTitle(title string) {
	clean := StripThinkTags(title)
	c.Title = &clean
}

// LastMessage returns the final message, or nil for an empty chat.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
