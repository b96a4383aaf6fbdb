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
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-2.0-flash"
)

// Gemini is a Completer backed by the generateContent API.
type Gemini struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewGemini creates a Gemini completer. Empty model and non-positive
// maxTokens fall back to defaults.
func NewGemini(apiKey, modelName string, maxTokens int) *Gemini {
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Gemini{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    newHTTPClient(),
	}
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Complete sends the request to the generateContent endpoint. Gemini
// uses "model" for the assistant role; roles are mapped accordingly.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	reqBody := geminiRequest{
		Contents:         contents,
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: maxTokens},
	}
	if req.System != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf(
		"%s/models/%s:generateContent?key=%s",
		geminiBaseURL, g.model, g.apiKey,
	)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}

		httpReq, err := http.NewRequestWithContext(
			ctx, http.MethodPost, url, bytes.NewReader(body),
		)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("calling Gemini API: %w", err)
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
				Provider: "gemini",
				Status:   resp.StatusCode,
				Message:  string(respBody),
			}
			continue
		}

		var result geminiResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}

		if result.Error != nil {
			if isRetryableStatus(result.Error.Code) {
				lastErr = &APIError{
					Provider: "gemini",
					Status:   result.Error.Code,
					Message:  result.Error.Message,
				}
				continue
			}
			return "", &APIError{
				Provider: "gemini",
				Status:   result.Error.Code,
				Message:  result.Error.Message,
			}
		}

		if len(result.Candidates) == 0 {
			return "", &APIError{
				Provider: "gemini",
				Status:   resp.StatusCode,
				Message:  "no candidates in response",
			}
		}

		var parts []string
		for _, p := range result.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}

		return strings.TrimSpace(strings.Join(parts, "")), nil
	}

	return "", lastErr
}
