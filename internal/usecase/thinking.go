package usecase

import (
	"strings"

	"localchat/internal/domain"
)

// ClassifyThinking classifies accumulated text relative to reasoning-segment
// markup. Pure: the same text always yields the same classification.
func ClassifyThinking(text string) domain.RenderState {
	lastOpen := strings.LastIndex(text, domain.ThinkOpen)
	lastClose := strings.LastIndex(text, domain.ThinkClose)

	if lastOpen < 0 && lastClose < 0 {
		return domain.RenderNoTags
	}
	// An open tag after the last close tag means the span is still open.
	if lastOpen > lastClose {
		return domain.RenderInThinking
	}

	after := text[lastClose+len(domain.ThinkClose):]
	if strings.TrimSpace(after) == "" {
		return domain.RenderClosedNoContent
	}
	return domain.RenderClosedWithContent
}

// VisibleContent returns what should be rendered for the accumulated text.
// With hide-thinking disabled everything is shown raw, tags included. With
// it enabled, open or content-less spans render nothing (the UI shows a
// progress indicator instead) and closed spans render only the text that
// follows the last close tag.
func VisibleContent(text string, hideThinking bool) string {
	if !hideThinking {
		return text
	}

	switch ClassifyThinking(text) {
	case domain.RenderNoTags:
		return text
	case domain.RenderInThinking, domain.RenderClosedNoContent:
		return ""
	default:
		lastClose := strings.LastIndex(text, domain.ThinkClose)
		after := text[lastClose+len(domain.ThinkClose):]
		return strings.TrimLeft(after, " \t\r\n")
	}
}
