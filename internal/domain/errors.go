package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Every failure surfaced to the caller
// maps onto one of these so propagation policy can discriminate with
// errors.Is instead of string matching.
var (
	ErrServerUnavailable = fmt.Errorf("inference server unavailable")
	ErrNoModels          = fmt.Errorf("no models available")
	ErrStreamTimeout     = fmt.Errorf("stream timed out")
	ErrCancelled         = fmt.Errorf("generation cancelled")
	ErrGenerationActive  = fmt.Errorf("a generation is already in progress")
	ErrChatNotFound      = fmt.Errorf("chat not found")

	// ErrChunkIdle marks silence between chunks after streaming has started.
	// It escalates to ErrStreamTimeout externally, so it wraps it.
	ErrChunkIdle = fmt.Errorf("chunk idle: %w", ErrStreamTimeout)
)

// HTTPError is a non-200 response from the inference server.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Generator.Generate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCancelled reports whether err represents user cancellation, which is
// never shown as a user-facing error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether err is retried automatically. Only stream
// timeouts qualify; everything else propagates immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStreamTimeout)
}
