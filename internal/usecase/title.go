package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"localchat/internal/domain"
	"localchat/internal/infra/tracer"
)

const (
	titleMaxWords   = 3
	titleMaxRunes   = 40
	titleTemp       = 0.1
	titleSystemMsg  = "You generate chat titles. Reply with a plain label of at most three words summarising the user's message. No punctuation, no quotes, no markdown, nothing else."
	titleGenTimeout = 20 * time.Second
)

var (
	markdownSyntaxRe = regexp.MustCompile("[*_`#>~\\[\\]()]")
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// TitleGenerator derives a short chat title from the first completed turn
// with a secondary low-temperature completion call. At most one generation
// runs at a time; overlapping requests are dropped rather than queued.
type TitleGenerator struct {
	client   domain.CompletionClient
	store    domain.HistoryStore
	settings domain.Settings
	bus      domain.EventBus
	logger   *slog.Logger

	inflight atomic.Bool
}

func NewTitleGenerator(client domain.CompletionClient, store domain.HistoryStore, settings domain.Settings, bus domain.EventBus, logger *slog.Logger) *TitleGenerator {
	return &TitleGenerator{
		client:   client,
		store:    store,
		settings: settings,
		bus:      bus,
		logger:   logger,
	}
}

// Generate derives and stores a title for the chat based on the user's first
// message. It is a no-op when auto titles are disabled or another title
// generation is in flight. The completion call failing is not an error the
// caller sees: the fallback title is used instead.
func (g *TitleGenerator) Generate(ctx context.Context, chatID domain.ChatID, model, userText string) {
	if !g.settings.AutoGenerateTitles() {
		return
	}
	if !g.inflight.CompareAndSwap(false, true) {
		return
	}
	defer g.inflight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, titleGenTimeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "title.generate")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("chat.id", string(chatID)))

	title := g.request(ctx, model, userText)
	if title == "" {
		title = FallbackTitle(userText)
	}
	if title == "" {
		return
	}

	if err := g.store.SetTitle(ctx, chatID, title); err != nil {
		tracer.RecordError(span, err)
		g.logger.Error("failed to store chat title", "chat_id", chatID, "error", err)
		return
	}
	tracer.SetOK(span)

	if g.bus != nil {
		data, _ := json.Marshal(domain.TitlePayload{ChatID: chatID, Title: title})
		g.bus.Publish(ctx, domain.Event{
			Type:      domain.EventChatTitleUpdated,
			Timestamp: time.Now(),
			Payload:   data,
		})
	}
}

func (g *TitleGenerator) request(ctx context.Context, model, userText string) string {
	req := domain.ChatRequest{
		Model: model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: titleSystemMsg},
			{Role: domain.RoleUser, Content: userText},
		},
		Temperature: titleTemp,
	}

	resp, err := g.client.Chat(ctx, req)
	if err != nil {
		g.logger.Warn("title generation call failed, using fallback", "error", err)
		return ""
	}
	return CleanTitle(resp.FirstContent())
}

// CleanTitle normalises a model-produced title: reasoning markup is removed
// first (it may wrap everything else), then markdown syntax, then the result
// is truncated to the word limit and stripped of surrounding quotes.
func CleanTitle(raw string) string {
	s := domain.StripThinkTags(raw)
	s = markdownSyntaxRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	s = truncateWords(s, titleMaxWords)
	s = strings.Trim(s, `"'`)
	return capRunes(strings.TrimSpace(s), titleMaxRunes)
}

// FallbackTitle derives a title from the user's message when the completion
// call fails or returns nothing usable.
func FallbackTitle(userText string) string {
	s := domain.StripThinkTags(userText)
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return capRunes(truncateWords(s, titleMaxWords), titleMaxRunes)
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
