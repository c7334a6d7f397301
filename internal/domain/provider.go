package domain

import (
	"context"
	"time"
)

// CompletionClient is the interface to an OpenAI-compatible completion
// endpoint.
type CompletionClient interface {
	// Chat sends a non-streaming request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream opens a streaming request. The returned Stream owns the
	// connection; the caller must Close it on every path.
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
}

// Stream is one open streaming completion. Deltas are delivered in arrival
// order; the channel closes when the server signals done, an error occurs,
// or the stream is closed. After the channel closes, Err reports any
// mid-stream failure.
type Stream interface {
	// Deltas returns the delta channel. Range over it until it closes.
	Deltas() <-chan StreamDelta
	// Err returns the terminal stream error, if any, once Deltas is closed.
	Err() error
	// Close aborts the connection. Idempotent: a second Close is a no-op.
	Close()
}

// Settings supplies the user-tunable knobs the core consults at generation
// time. Implementations are expected to be cheap to call.
type Settings interface {
	HideThinking() bool
	AutoGenerateTitles() bool
	Temperature() float64
	StreamTimeout() time.Duration
	MaxTokens() int
}

// ModelInfo describes one model the server can serve.
type ModelInfo struct {
	ID     string
	Vision bool
}

// ModelCatalog supplies the selected model and its capabilities.
type ModelCatalog interface {
	// SelectedModel returns the model to generate with. Returns ErrNoModels
	// when the server has none.
	SelectedModel(ctx context.Context) (ModelInfo, error)
}

// HistoryStore is the durable chat map. Writers always read-modify-write the
// whole persisted document; there are no row-level message updates.
type HistoryStore interface {
	// Load returns the full chat map, normalised to the current format.
	Load(ctx context.Context) (map[ChatID]*Chat, error)
	// Chat returns one chat. Returns ErrChatNotFound if absent.
	Chat(ctx context.Context, id ChatID) (*Chat, error)
	// Create makes a new empty chat and returns its id.
	Create(ctx context.Context) (ChatID, error)
	// Delete removes a chat. Deleting the active chat repoints the active
	// pointer at a freshly created chat.
	Delete(ctx context.Context, id ChatID) error
	// Active returns the active chat id, creating a chat if none exists.
	Active(ctx context.Context) (ChatID, error)
	// AppendUser appends a user message and returns the updated chat.
	AppendUser(ctx context.Context, id ChatID, msg Message) (*Chat, error)
	// Append commits a completed turn. A user message identical to the
	// chat's trailing user message is not re-added.
	Append(ctx context.Context, id ChatID, user *Message, assistant *Message) (*Chat, error)
	// SetTitle stores the chat title, stripped of reasoning markup.
	SetTitle(ctx context.Context, id ChatID, title string) error
}
