package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"localchat/internal/domain"
	"localchat/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from the server
// for non-streaming calls.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Client talks to one OpenAI-compatible inference server.
type Client struct {
	baseURL string
	// httpClient serves non-streaming calls and carries a request timeout.
	httpClient *http.Client
	// streamClient has no timeout; stream lifetimes are bounded by context.
	streamClient *http.Client
	logger       *slog.Logger
}

var _ domain.CompletionClient = (*Client)(nil)

// NewClient creates a client for the server at baseURL (no /v1 suffix).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

// Chat sends a non-streaming completion request. Used by the title
// generator; streaming turns go through ChatStream.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(tracer.StringAttr("llm.model", req.Model)),
	)
	defer span.End()

	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapTransportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		err := mapHTTPError(httpResp.StatusCode, respBody)
		tracer.RecordError(span, err)
		return nil, err
	}

	var resp domain.ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	tracer.SetOK(span)
	c.logger.Debug("llm chat completed", "model", resp.Model)
	return &resp, nil
}

// ChatStream opens a streaming completion request. The returned Stream owns
// the connection; its Close is idempotent and runs on every exit path.
func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// The stream carries its own cancel so Close can abort the connection
	// independently of the caller's context.
	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, mapTransportError(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		cancel()
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	s := newStream(streamCtx, cancel, httpResp.Body, c.logger)
	go s.run()
	return s, nil
}

// serverError is the error envelope some servers return on non-200.
type serverError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// mapHTTPError converts a non-200 response into a domain error.
func mapHTTPError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var envelope serverError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return &domain.HTTPError{Status: statusCode, Message: msg}
}

// mapTransportError converts a transport-level failure into a domain error.
// Context cancellation is the cooperative cancel path, not a server fault.
func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrStreamTimeout
	}
	return fmt.Errorf("%w: %v", domain.ErrServerUnavailable, err)
}
