package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one element of a typed-parts message body, used for
// vision-capable turns. Type is either "text" or "image_url".
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data URL or remote URL for an image part.
type ImageURL struct {
	URL string `json:"url"`
}

// Attachment is a file the user attached to a message, already extracted
// into text or a base64 data URL by the file-extraction collaborator.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
	IsImage  bool   `json:"isImage"`
}

// Message represents a single message in a chat. Content is the plain-text
// body; Parts is the typed-parts variant used for vision turns. Exactly one
// of the two forms is serialised: Parts when non-empty, Content otherwise.
type Message struct {
	Role          string
	Content       string
	Parts         []ContentPart
	Files         []Attachment
	TopicBoundary bool
	Timestamp     time.Time
}

// messageJSON is the wire/storage form of Message. The content field is a
// raw value because it is either a string or an array of parts.
type messageJSON struct {
	Role          string          `json:"role"`
	Content       json.RawMessage `json:"content"`
	Files         []Attachment    `json:"files,omitempty"`
	TopicBoundary bool            `json:"isTopicBoundary,omitempty"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
}

// MarshalJSON emits content as a plain string, or as the typed-parts array
// when Parts is set.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if len(m.Parts) > 0 {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal message content: %w", err)
	}

	out := messageJSON{
		Role:          m.Role,
		Content:       content,
		Files:         m.Files,
		TopicBoundary: m.TopicBoundary,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		out.Timestamp = &ts
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both content forms and normalises them at the
// boundary: a JSON string populates Content, a JSON array populates Parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.Files = raw.Files
	m.TopicBoundary = raw.TopicBoundary
	m.Content = ""
	m.Parts = nil
	if raw.Timestamp != nil {
		m.Timestamp = *raw.Timestamp
	}

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}

	switch raw.Content[0] {
	case '[':
		if err := json.Unmarshal(raw.Content, &m.Parts); err != nil {
			return fmt.Errorf("unmarshal message parts: %w", err)
		}
	default:
		if err := json.Unmarshal(raw.Content, &m.Content); err != nil {
			return fmt.Errorf("unmarshal message content: %w", err)
		}
	}
	return nil
}

// Text returns the plain-text body of the message. For typed-parts messages
// it is the concatenation of the text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var s string
	for _, p := range m.Parts {
		if p.Type == "text" {
			s += p.Text
		}
	}
	return s
}

// ChatRequest is sent to the completion endpoint.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is a complete, non-streaming completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// FirstContent returns the first choice's message content, or "".
func (r *ChatResponse) FirstContent() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
