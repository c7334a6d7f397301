// Package history persists the chat map. The whole map is one JSON document
// stored under a fixed key; writers always read-modify-write the full
// document, never individual messages.
package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"localchat/internal/domain"
)

// historyKey is the fixed name the serialized chat map is stored under.
const historyKey = "chats"

// Store implements domain.HistoryStore on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ids    domain.ChatIDSource

	mu     sync.Mutex
	active domain.ChatID
}

var _ domain.HistoryStore = (*Store)(nil)

// NewStore opens (or creates) the history database at dbPath and runs the
// schema migration.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func migrateSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the full chat map, normalised to the current format.
// Normalisation runs on every load, not only once, because legacy data can
// reappear via restored backups.
func (s *Store) Load(ctx context.Context) (map[domain.ChatID]*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (map[domain.ChatID]*domain.Chat, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE name = ?", historyKey).Scan(&value)
	if err == sql.ErrNoRows {
		return map[domain.ChatID]*domain.Chat{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	chats, err := NormalizeRaw([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return chats, nil
}

// save serializes the entire map under the fixed key, then reads it back to
// verify the write landed and is parseable. A verification failure is
// logged and returned, not retried.
func (s *Store) save(ctx context.Context, chats map[domain.ChatID]*domain.Chat) error {
	blob, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO kv (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		historyKey, string(blob),
	)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	// Read-back verification.
	var stored string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE name = ?", historyKey).Scan(&stored); err != nil {
		s.logger.Error("history save verification failed", "error", err)
		return fmt.Errorf("verify history write: %w", err)
	}
	var check map[domain.ChatID]*domain.Chat
	if err := json.Unmarshal([]byte(stored), &check); err != nil {
		s.logger.Error("history save verification failed", "error", err)
		return fmt.Errorf("verify history write: %w", err)
	}
	return nil
}

// Chat returns one chat by id.
func (s *Store) Chat(ctx context.Context, id domain.ChatID) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	chat, ok := chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return chat, nil
}

// Create makes a new empty chat and makes it active.
func (s *Store) Create(ctx context.Context) (domain.ChatID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx)
}

func (s *Store) create(ctx context.Context) (domain.ChatID, error) {
	chats, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	id := s.ids.Next(time.Now())
	chats[id] = domain.NewChat()
	if err := s.save(ctx, chats); err != nil {
		return "", err
	}
	s.active = id
	return id, nil
}

// Delete removes a chat. Deleting the active chat repoints the active
// pointer at a freshly created chat; the deleted chat is never read again.
func (s *Store) Delete(ctx context.Context, id domain.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := chats[id]; !ok {
		return domain.ErrChatNotFound
	}
	delete(chats, id)

	wasActive := s.active == id
	if wasActive {
		// Repoint before saving so the new chat is part of the same write.
		fresh := s.ids.Next(time.Now())
		chats[fresh] = domain.NewChat()
		s.active = fresh
	}
	return s.save(ctx, chats)
}

// Active returns the active chat id, creating a chat when the store is
// empty.
func (s *Store) Active(ctx context.Context) (domain.ChatID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if s.active != "" {
		if _, ok := chats[s.active]; ok {
			return s.active, nil
		}
	}

	// Fall back to the most recently created chat.
	var latest domain.ChatID
	for id := range chats {
		if id.Millis() > latest.Millis() {
			latest = id
		}
	}
	if latest != "" {
		s.active = latest
		return latest, nil
	}
	return s.create(ctx)
}

// AppendUser appends a user message and returns the updated chat.
func (s *Store) AppendUser(ctx context.Context, id domain.ChatID, msg domain.Message) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	chat, ok := chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	if !isDuplicateUser(chat, &msg) {
		chat.Messages = append(chat.Messages, msg)
	}
	if err := s.save(ctx, chats); err != nil {
		return nil, err
	}
	return chat, nil
}

// Append commits a completed turn. The user message is skipped when it is
// already the chat's trailing message (committed earlier in the same turn).
func (s *Store) Append(ctx context.Context, id domain.ChatID, user *domain.Message, assistant *domain.Message) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	chat, ok := chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}

	if user != nil && !isDuplicateUser(chat, user) {
		chat.Messages = append(chat.Messages, *user)
	}
	if assistant != nil {
		chat.Messages = append(chat.Messages, *assistant)
	}

	if err := s.save(ctx, chats); err != nil {
		return nil, err
	}
	return chat, nil
}

// SetTitle stores the chat title. Tag stripping happens in Chat.SetTitle so
// escaped variants never reach storage.
func (s *Store) SetTitle(ctx context.Context, id domain.ChatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.load(ctx)
	if err != nil {
		return err
	}
	chat, ok := chats[id]
	if !ok {
		return domain.ErrChatNotFound
	}
	chat.SetTitle(title)
	return s.save(ctx, chats)
}

// isDuplicateUser reports whether msg repeats the chat's trailing user
// message with identical content.
func isDuplicateUser(chat *domain.Chat, msg *domain.Message) bool {
	last := chat.LastMessage()
	if last == nil || last.Role != domain.RoleUser || msg.Role != domain.RoleUser {
		return false
	}
	return bytes.Equal(contentKey(last), contentKey(msg))
}

// contentKey renders a message's content (either variant) into a comparable
// form. Timestamps and files are deliberately excluded: "identical content"
// is what guards against double-committing the same user message.
func contentKey(m *domain.Message) []byte {
	if len(m.Parts) > 0 {
		j, err := json.Marshal(m.Parts)
		if err != nil {
			return nil
		}
		return j
	}
	return []byte(m.Content)
}
