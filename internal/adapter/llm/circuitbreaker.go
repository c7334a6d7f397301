package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"localchat/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerClient wraps a CompletionClient with circuit breaker
// protection on non-streaming calls. When a dead server fails repeatedly the
// circuit opens and subsequent title calls fail fast instead of stacking
// timeouts. Streaming calls pass through: they are governed by the retry and
// timeout policy of the generation core.
type CircuitBreakerClient struct {
	inner   domain.CompletionClient
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

var _ domain.CompletionClient = (*CircuitBreakerClient)(nil)

// NewCircuitBreakerClient wraps inner with a circuit breaker.
func NewCircuitBreakerClient(inner domain.CompletionClient, logger *slog.Logger) *CircuitBreakerClient {
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:completions",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a server fault.
			return err == nil || errors.Is(err, domain.ErrCancelled)
		},
	})

	return &CircuitBreakerClient{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.CompletionClient with fail-fast protection.
func (c *CircuitBreakerClient) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := c.breaker.Execute(func() (*domain.ChatResponse, error) {
		return c.inner.Chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", domain.ErrServerUnavailable)
		}
		return nil, err
	}
	return resp, nil
}

// ChatStream implements domain.CompletionClient by delegating to the inner
// client.
func (c *CircuitBreakerClient) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	return c.inner.ChatStream(ctx, req)
}
