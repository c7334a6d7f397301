package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventChatDelta        EventType = "chat.delta"
	EventChatRender       EventType = "chat.render"
	EventChatCompleted    EventType = "chat.completed"
	EventChatCancelled    EventType = "chat.cancelled"
	EventChatFailed       EventType = "chat.failed"
	EventChatRetry        EventType = "chat.retry"
	EventChatTitleUpdated EventType = "chat.title_updated"
)

// Event is the envelope published on the event bus. The core emits these;
// the presentation layer subscribes. The core never calls into presentation
// packages directly.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) func()
}

// CompletedPayload is the payload for EventChatCompleted events.
type CompletedPayload struct {
	ChatID  ChatID `json:"chat_id"`
	Content string `json:"content"`
}

// FailedPayload is the payload for EventChatFailed events.
type FailedPayload struct {
	ChatID ChatID `json:"chat_id"`
	Error  string `json:"error"`
}

// RetryPayload is the payload for EventChatRetry events: the user-visible
// notice between timeout retry attempts.
type RetryPayload struct {
	ChatID  ChatID `json:"chat_id"`
	Attempt int    `json:"attempt"`
	Max     int    `json:"max"`
}

// TitlePayload is the payload for EventChatTitleUpdated events.
type TitlePayload struct {
	ChatID ChatID `json:"chat_id"`
	Title  string `json:"title"`
}
