// Package brain talks to text-completion services (Claude, OpenAI, Ollama).
package brain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Provider is the interface for AI providers
type Provider interface {
	// Name returns the provider name (e.g., "claude", "openai")
	Name() string

	// Available returns true if the provider is configured and ready
	Available() bool

	// Generate sends a prompt and returns the response
	Generate(ctx context.Context, req Request) (Response, error)
}

// Message is one prior turn of a conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a prompt request to an AI provider
type Request struct {
	SystemPrompt string
	// History holds earlier turns, oldest first. UserPrompt is appended after it.
	History    []Message
	UserPrompt string
	MaxTokens  int
}

// Response is the AI provider's response
type Response struct {
	Content     string
	Model       string
	RawResponse string // The raw API response body for logging/debugging
}

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Body)
}

// IsTransient reports whether err is worth one more attempt: network
// failures, 429 and 5xx responses. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
