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
	openaiURL          = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI is a Completer backed by the Chat Completions API.
type OpenAI struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOpenAI creates an OpenAI completer. Empty model and non-positive
// maxTokens fall back to defaults.
func NewOpenAI(apiKey, modelName string, maxTokens int) *OpenAI {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    newHTTPClient(),
	}
}

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the request to the Chat Completions API. The system
// prompt is carried as a leading "system" role message.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{
			Role:    "system",
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	body, err := json.Marshal(openaiRequest{
		Model:               o.model,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
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
			ctx, http.MethodPost, openaiURL, bytes.NewReader(body),
		)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

		resp, err := o.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("calling OpenAI API: %w", err)
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
				Provider: "openai",
				Status:   resp.StatusCode,
				Message:  string(respBody),
			}
			continue
		}

		var result openaiResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}

		if resp.StatusCode != http.StatusOK || result.Error != nil {
			msg := string(respBody)
			if result.Error != nil {
				msg = result.Error.Message
			}
			return "", &APIError{
				Provider: "openai",
				Status:   resp.StatusCode,
				Message:  msg,
			}
		}

		if len(result.Choices) == 0 {
			return "", &APIError{
				Provider: "openai",
				Status:   resp.StatusCode,
				Message:  "empty choices in response",
			}
		}

		return strings.TrimSpace(result.Choices[0].Message.Content), nil
	}

	return "", lastErr
}
