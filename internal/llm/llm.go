// Package llm provides a provider-agnostic completion capability.
// Anthropic, OpenAI, and Gemini are interchangeable backends of the one
// Completer interface; provider selection is a configuration-time
// choice.
package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	defaultTimeout = 120 * time.Second
)

// Message is a single prompt message.
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is a completion request. System carries the system prompt;
// Messages carry the alternating conversation.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Completer is the single capability the pipeline needs from a language
// model: turn a prompt into text. All implementations are fallible
// remote calls.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError is a non-retryable error returned by a backend API.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Message)
}

// New builds a Completer from configuration. apiKey comes from the
// keyring, never from the config file.
func New(cfg model.LLMConfig, apiKey string) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropic(apiKey, cfg.Model, cfg.MaxTokens), nil
	case "openai":
		return NewOpenAI(apiKey, cfg.Model, cfg.MaxTokens), nil
	case "gemini":
		return NewGemini(apiKey, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// newHTTPClient returns the shared HTTP client configuration for all
// backends.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// sleepBackoff waits the backoff for the given attempt, or returns early
// when the context is cancelled.
func sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(calculateBackoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StripFences removes a Markdown code fence wrapper from an LLM reply,
// so JSON answers survive models that insist on fencing them.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
