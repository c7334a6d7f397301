package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoder     *tiktoken.Tiktoken
	encoderOnce sync.Once
)

// estimateTokens approximates the prompt token count with the cl100k_base
// encoding, which is close enough across local models for a status-bar
// figure. Returns 0 when the encoding is unavailable (e.g. offline first
// run).
func estimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return 0
	}
	return len(encoder.Encode(text, nil, nil))
}
