package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"localchat/internal/domain"
)

// Bubble Tea messages bridged from the domain event bus. Each wraps the
// decoded payload of the corresponding event.

// DeltaMsg carries one raw content delta.
type DeltaMsg struct {
	Delta domain.StreamDelta
}

// RenderMsg carries the current visible text and its classification.
type RenderMsg struct {
	Update domain.RenderUpdate
}

// CompletedMsg signals a finished generation with the final visible text.
type CompletedMsg struct {
	Payload domain.CompletedPayload
}

// CancelledMsg signals a user-cancelled generation; Payload.Content holds
// whatever partial text was kept.
type CancelledMsg struct {
	Payload domain.CompletedPayload
}

// FailedMsg carries the user-facing error text.
type FailedMsg struct {
	Payload domain.FailedPayload
}

// RetryMsg is the between-attempts notice for timeout retries.
type RetryMsg struct {
	Payload domain.RetryPayload
}

// TitleMsg signals the chat title was generated or updated.
type TitleMsg struct {
	Payload domain.TitlePayload
}

// GenerateDoneMsg reports the Generate call returning; Err is nil on
// success and on cancellation.
type GenerateDoneMsg struct {
	Err error
}

// Sender is the part of tea.Program the bridge needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge subscribes to the event bus and forwards chat events to the Bubble
// Tea program. The returned function detaches the subscription.
func Bridge(bus domain.EventBus, p Sender, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		if msg := decodeEvent(ev, logger); msg != nil {
			p.Send(msg)
		}
	})
}

func decodeEvent(ev domain.Event, logger *slog.Logger) tea.Msg {
	unmarshal := func(v any) bool {
		if err := json.Unmarshal(ev.Payload, v); err != nil {
			logger.Warn("dropping undecodable event", "type", ev.Type, "error", err)
			return false
		}
		return true
	}

	switch ev.Type {
	case domain.EventChatDelta:
		var m DeltaMsg
		if unmarshal(&m.Delta) {
			return m
		}
	case domain.EventChatRender:
		var m RenderMsg
		if unmarshal(&m.Update) {
			return m
		}
	case domain.EventChatCompleted:
		var m CompletedMsg
		if unmarshal(&m.Payload) {
			return m
		}
	case domain.EventChatCancelled:
		var m CancelledMsg
		if unmarshal(&m.Payload) {
			return m
		}
	case domain.EventChatFailed:
		var m FailedMsg
		if unmarshal(&m.Payload) {
			return m
		}
	case domain.EventChatRetry:
		var m RetryMsg
		if unmarshal(&m.Payload) {
			return m
		}
	case domain.EventChatTitleUpdated:
		var m TitleMsg
		if unmarshal(&m.Payload) {
			return m
		}
	}
	return nil
}
