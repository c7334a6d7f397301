package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"localchat/internal/domain"
)

// NormalizeRaw parses a persisted chat-map blob, converting every chat to
// the current {messages, title} form. It accepts, per chat:
//
//   - the current object form {"messages": [...], "title": ...}
//   - a bare message array (legacy, no title)
//   - an object of numeric-string indices plus an out-of-band "title" key
//     (the serialised form of a message array that carried an attached
//     title property)
//
// Missing fields default to empty messages / null title. Normalisation is
// idempotent: current-format input passes through unchanged.
func NormalizeRaw(blob []byte) (map[domain.ChatID]*domain.Chat, error) {
	var raw map[domain.ChatID]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal chat map: %w", err)
	}

	chats := make(map[domain.ChatID]*domain.Chat, len(raw))
	for id, rawChat := range raw {
		chat, err := MigrateLegacy(rawChat)
		if err != nil {
			return nil, fmt.Errorf("chat %s: %w", id, err)
		}
		chats[id] = chat
	}
	return chats, nil
}

// MigrateLegacy converts one raw chat value into the current form.
func MigrateLegacy(raw json.RawMessage) (*domain.Chat, error) {
	trimmed := firstNonSpace(raw)
	switch trimmed {
	case '[':
		var messages []domain.Message
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("legacy message array: %w", err)
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		return &domain.Chat{Messages: messages}, nil
	case '{':
		return migrateObject(raw)
	default:
		return nil, fmt.Errorf("chat value is neither array nor object")
	}
}

func migrateObject(raw json.RawMessage) (*domain.Chat, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("chat object: %w", err)
	}

	if _, hasMessages := fields["messages"]; hasMessages || !hasIndexKeys(fields) {
		return migrateCurrent(fields)
	}
	return migrateIndexed(fields)
}

// migrateCurrent handles the {messages, title} form, defaulting missing
// fields.
func migrateCurrent(fields map[string]json.RawMessage) (*domain.Chat, error) {
	chat := domain.NewChat()

	if rawMsgs, ok := fields["messages"]; ok && string(rawMsgs) != "null" {
		if err := json.Unmarshal(rawMsgs, &chat.Messages); err != nil {
			return nil, fmt.Errorf("messages field: %w", err)
		}
		if chat.Messages == nil {
			chat.Messages = []domain.Message{}
		}
	}
	if err := applyTitle(chat, fields); err != nil {
		return nil, err
	}
	return chat, nil
}

// migrateIndexed handles the serialised array-with-attached-title form:
// numeric-string keys hold messages, "title" rides alongside. Message order
// follows the numeric indices.
func migrateIndexed(fields map[string]json.RawMessage) (*domain.Chat, error) {
	indices := make([]int, 0, len(fields))
	for k := range fields {
		if n, err := strconv.Atoi(k); err == nil {
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)

	chat := domain.NewChat()
	for _, n := range indices {
		var msg domain.Message
		if err := json.Unmarshal(fields[strconv.Itoa(n)], &msg); err != nil {
			return nil, fmt.Errorf("legacy message %d: %w", n, err)
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := applyTitle(chat, fields); err != nil {
		return nil, err
	}
	return chat, nil
}

func applyTitle(chat *domain.Chat, fields map[string]json.RawMessage) error {
	rawTitle, ok := fields["title"]
	if !ok || string(rawTitle) == "null" {
		return nil
	}
	var title string
	if err := json.Unmarshal(rawTitle, &title); err != nil {
		return fmt.Errorf("title field: %w", err)
	}
	// Stripping runs on every load: escaped tag variants can resurface
	// after format conversions.
	chat.SetTitle(title)
	return nil
}

func hasIndexKeys(fields map[string]json.RawMessage) bool {
	for k := range fields {
		if _, err := strconv.Atoi(k); err == nil {
			return true
		}
	}
	return false
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
