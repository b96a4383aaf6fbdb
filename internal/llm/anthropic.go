package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicURL          = "https://api.anthropic.com/v1/messages"
	anthropicVersion      = "2023-06-01"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultMaxTokens      = 1024
)

// Anthropic is a Completer backed by the Claude Messages API.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropic creates an Anthropic completer. Empty model and
// non-positive maxTokens fall back to defaults.
func NewAnthropic(apiKey, modelName string, maxTokens int) *Anthropic {
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    newHTTPClient(),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the request to the Claude Messages API and returns the
// concatenated text content. Rate-limit and server errors are retried
// with exponential backoff.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}

		httpReq, err := http.NewRequestWithContext(
			ctx, http.MethodPost, anthropicURL, bytes.NewReader(body),
		)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("calling Claude API: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response: %w", err)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = &APIError{
				Provider: "anthropic",
				Status:   resp.StatusCode,
				Message:  string(respBody),
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr anthropicErrorResponse
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				return "", &APIError{
					Provider: "anthropic",
					Status:   resp.StatusCode,
					Message:  apiErr.Error.Message,
				}
			}
			return "", &APIError{
				Provider: "anthropic",
				Status:   resp.StatusCode,
				Message:  string(respBody),
			}
		}

		var result anthropicResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}

		var parts []string
		for _, block := range result.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}

		return strings.TrimSpace(strings.Join(parts, "")), nil
	}

	return "", lastErr
}
