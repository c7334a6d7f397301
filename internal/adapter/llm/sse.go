package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"localchat/internal/domain"
)

// readBufferSize is the raw chunk size read from the response body.
const readBufferSize = 4096

// sseDataPrefix frames content-bearing SSE lines.
const sseDataPrefix = "data: "

// sseDone is the terminal control payload.
const sseDone = "[DONE]"

// streamChunk is one decoded SSE payload from the completion endpoint.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// stream consumes one SSE response body, reassembling raw bytes into UTF-8
// text, framing it into data: lines, and emitting content deltas in arrival
// order. It implements domain.Stream.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	ch     chan domain.StreamDelta
	logger *slog.Logger

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

var _ domain.Stream = (*stream)(nil)

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, logger *slog.Logger) *stream {
	return &stream{
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		ch:     make(chan domain.StreamDelta, 16),
		logger: logger,
	}
}

// Deltas implements domain.Stream.
func (s *stream) Deltas() <-chan domain.StreamDelta { return s.ch }

// Err implements domain.Stream. Valid once Deltas is closed.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close aborts the connection. Safe to call from any goroutine and any
// number of times; the second and later calls are no-ops.
func (s *stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
	})
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// run reads the body to completion. The connection is unconditionally
// aborted on exit, whether the server signalled done or the stream failed.
func (s *stream) run() {
	defer close(s.ch)
	defer s.Close()

	dec := &utf8Decoder{}
	var pending string // complete-rune text not yet framed into lines
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			pending += dec.Decode(buf[:n])
			var lines []string
			lines, pending = splitCompleteLines(pending)
			for _, line := range lines {
				if s.handleLine(line) {
					return
				}
			}
		}

		if readErr != nil {
			// Final decode flush: emit any buffered partial sequence, then
			// process whatever text remains as a last line.
			pending += dec.Flush()
			if pending != "" && s.handleLine(pending) {
				return
			}
			if readErr != io.EOF {
				if s.ctx.Err() != nil {
					s.setErr(domain.ErrCancelled)
				} else if !errors.Is(readErr, io.ErrUnexpectedEOF) {
					s.setErr(readErr)
				}
			}
			return
		}
	}
}

// handleLine processes one SSE line. Returns true when the stream is done.
func (s *stream) handleLine(line string) bool {
	line = strings.TrimSuffix(line, "\r")

	// Blank lines are event separators; comment lines start with ':'.
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	if !strings.HasPrefix(line, sseDataPrefix) {
		return false
	}
	payload := strings.TrimPrefix(line, sseDataPrefix)

	if payload == sseDone {
		s.emit(domain.StreamDelta{Done: true})
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// A single malformed payload must not abort the whole stream.
		s.logger.Warn("skipping malformed stream payload", "error", err)
		return false
	}

	if len(chunk.Choices) == 0 {
		return false
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		if !s.emit(domain.StreamDelta{Content: *choice.Delta.Content}) {
			return true
		}
	}
	return false
}

// emit delivers a delta, respecting cancellation. Returns false when the
// stream context is done.
func (s *stream) emit(d domain.StreamDelta) bool {
	select {
	case s.ch <- d:
		return true
	case <-s.ctx.Done():
		s.setErr(domain.ErrCancelled)
		return false
	}
}

// splitCompleteLines splits text at newlines, returning the complete lines
// and the trailing partial line (which may be completed by a later chunk).
func splitCompleteLines(text string) (lines []string, rest string) {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return lines, text
		}
		lines = append(lines, text[:i])
		text = text[i+1:]
	}
}

// utf8Decoder converts raw byte chunks into text incrementally. A multi-byte
// sequence split across chunk boundaries is buffered and retried once the
// next chunk arrives; it never surfaces as an error.
type utf8Decoder struct {
	tail []byte
}

// Decode returns the decodable prefix of the accumulated bytes as a string,
// holding back a trailing incomplete rune.
func (d *utf8Decoder) Decode(p []byte) string {
	b := p
	if len(d.tail) > 0 {
		b = append(d.tail, p...)
		d.tail = nil
	}

	// Walk back at most utf8.UTFMax-1 bytes looking for a rune start whose
	// sequence is not yet complete.
	n := len(b)
	for i := n - 1; i >= 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				d.tail = append([]byte(nil), b[i:]...)
				b = b[:i]
			}
			break
		}
	}
	return string(b)
}

// Flush returns any buffered partial sequence as-is. Called once at stream
// end so truncated output is still surfaced rather than silently dropped.
func (d *utf8Decoder) Flush() string {
	if len(d.tail) == 0 {
		return ""
	}
	t := string(d.tail)
	d.tail = nil
	return t
}
