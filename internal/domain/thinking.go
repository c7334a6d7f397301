package domain

import "regexp"

// Reasoning-segment markers emitted by thinking models.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

var (
	// Balanced spans, raw and HTML-escaped. (?s) so spans survive newlines.
	thinkSpanRe        = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkSpanEscapedRe = regexp.MustCompile(`(?s)&lt;think&gt;.*?&lt;/think&gt;`)
	// Unclosed open tag swallows everything after it.
	thinkOpenTailRe        = regexp.MustCompile(`(?s)<think>.*$`)
	thinkOpenTailEscapedRe = regexp.MustCompile(`(?s)&lt;think&gt;.*$`)
	// Orphan close tags left behind by partial output.
	thinkCloseRe = regexp.MustCompile(`</think>|&lt;/think&gt;`)
)

// StripThinkTags removes reasoning-segment markup from s: balanced
// <think>…</think> spans (raw and HTML-escaped), any unclosed trailing open
// span, and orphan close tags. Idempotent, so it is safe to apply on every
// write.
func StripThinkTags(s string) string {
	s = thinkSpanRe.ReplaceAllString(s, "")
	s = thinkSpanEscapedRe.ReplaceAllString(s, "")
	s = thinkOpenTailRe.ReplaceAllString(s, "")
	s = thinkOpenTailEscapedRe.ReplaceAllString(s, "")
	s = thinkCloseRe.ReplaceAllString(s, "")
	return s
}
