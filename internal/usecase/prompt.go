package usecase

import (
	"fmt"
	"strings"

	"localchat/internal/domain"
)

// BuildUserMessage assembles the outgoing user message from the typed text
// and its attachments. Text attachments are inlined as fenced blocks below
// the message body. Image attachments are only included for vision-capable
// models, switching the message to the typed-parts content form with the
// extracted data URLs.
func BuildUserMessage(text string, attachments []domain.Attachment, vision bool) domain.Message {
	body := text
	var images []domain.Attachment
	for _, att := range attachments {
		if att.IsImage {
			if vision {
				images = append(images, att)
			}
			continue
		}
		body += fmt.Sprintf("\n\nAttached file %q:\n```\n%s\n```", att.Name, att.Content)
	}

	msg := domain.Message{
		Role:    domain.RoleUser,
		Content: body,
		Files:   attachments,
	}
	if len(images) > 0 {
		parts := []domain.ContentPart{{Type: "text", Text: body}}
		for _, img := range images {
			parts = append(parts, domain.ContentPart{
				Type:     "image_url",
				ImageURL: &domain.ImageURL{URL: img.Content},
			})
		}
		msg.Content = ""
		msg.Parts = parts
	}
	return msg
}

// BuildRequest maps a chat's history onto a completion request. Stored
// bookkeeping (timestamps, attachment metadata) is dropped; only role and
// content travel to the server. Messages before the most recent topic
// boundary are excluded.
func BuildRequest(model string, chat *domain.Chat, settings domain.Settings) domain.ChatRequest {
	history := chat.Messages
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].TopicBoundary {
			history = history[i:]
			break
		}
	}

	msgs := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Text()) == "" && len(m.Parts) == 0 {
			continue
		}
		msgs = append(msgs, domain.Message{
			Role:    m.Role,
			Content: m.Content,
			Parts:   m.Parts,
		})
	}

	return domain.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: settings.Temperature(),
		Stream:      true,
		MaxTokens:   settings.MaxTokens(),
	}
}
