package domain

// StreamDelta is a single incremental chunk from a streaming completion.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// RenderState classifies the accumulated text relative to reasoning-segment
// markup. It drives what the presentation layer shows mid-stream.
type RenderState int

const (
	// RenderNoTags: no reasoning markup seen; render content normally.
	RenderNoTags RenderState = iota
	// RenderInThinking: an open <think> span is unclosed; render a progress
	// indicator (hide-thinking on) or the raw text (hide-thinking off).
	RenderInThinking
	// RenderClosedNoContent: tags are balanced but nothing follows the last
	// close; render nothing rather than a stale indicator.
	RenderClosedNoContent
	// RenderClosedWithContent: tags are balanced and answer text follows.
	RenderClosedWithContent
)

// String returns a diagnostic label for the state.
func (s RenderState) String() string {
	switch s {
	case RenderNoTags:
		return "no-tags"
	case RenderInThinking:
		return "in-thinking"
	case RenderClosedNoContent:
		return "closed-no-content"
	case RenderClosedWithContent:
		return "closed-with-content"
	default:
		return "unknown"
	}
}

// RenderUpdate is the payload for EventChatRender events: the text the UI
// should currently display and the classification that produced it.
type RenderUpdate struct {
	ChatID   ChatID      `json:"chat_id"`
	State    RenderState `json:"state"`
	Visible  string      `json:"visible"`
	Thinking bool        `json:"thinking"`
}
