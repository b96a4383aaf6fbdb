// Package query translates natural-language questions about the
// mailbox into the store's closed filter form. The model never writes
// SQL; it fills in a fixed JSON schema, and anything outside that
// schema is rejected as ambiguous.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/store"
)

const systemPrompt = `You translate questions about a user's email into a JSON filter. The filter schema, all fields optional:

{"categories": ["Meetings"|"Important"|"Follow-Up"|"Spam"|"Updates"|"Social"|"Promotions"], "sender": string, "after": string (RFC 3339), "before": string (RFC 3339), "read": boolean, "contains": string, "thread_id": string, "limit": number}

Rules:
- Resolve relative dates ("last week", "yesterday") against the current date given in the prompt.
- Time ranges are half-open: "after" is inclusive, "before" is exclusive.
- Use the conversation history to resolve references like "those" or "the same sender".
- If the question cannot be expressed with this schema, respond with exactly: {"clarify": "<question to ask the user>"}
- Respond with the JSON only, no other text.`

// Ambiguous indicates the question could not be translated into the
// filter schema. Clarification holds the follow-up question to show
// the user.
type Ambiguous struct {
	Question      string
	clarification string
}

func (e *Ambiguous) Error() string {
	return fmt.Sprintf("ambiguous query %q", e.Question)
}

// Clarification returns the follow-up question to put to the user.
func (e *Ambiguous) Clarification() string {
	if e.clarification != "" {
		return e.clarification
	}
	return "Could you rephrase that? I can filter by category, sender, date range, read state, or text."
}

// Translator turns natural-language questions into email filters.
type Translator struct {
	llm llm.Completer

	// now is swapped in tests to pin the date injected into prompts.
	now func() time.Time
}

// New creates a Translator.
func New(completer llm.Completer) *Translator {
	return &Translator{llm: completer, now: time.Now}
}

// Translate converts the question into an EmailFilter. History supplies
// earlier turns so follow-up references resolve; it may be nil. An
// unanswerable question returns *Ambiguous.
func (t *Translator) Translate(
	ctx context.Context,
	question string,
	history []model.ConversationTurn,
) (store.EmailFilter, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, llm.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: fmt.Sprintf(
			"Current date: %s\n\n%s",
			t.now().Format(time.RFC3339), question,
		),
	})

	resp, err := t.llm.Complete(ctx, llm.Request{
		System:   systemPrompt,
		Messages: messages,
	})
	if err != nil {
		return store.EmailFilter{}, fmt.Errorf("translating query: %w", err)
	}

	return parseResponse(question, resp)
}

type filterPayload struct {
	Categories []string `json:"categories"`
	Sender     string   `json:"sender"`
	After      string   `json:"after"`
	Before     string   `json:"before"`
	Read       *bool    `json:"read"`
	Contains   string   `json:"contains"`
	ThreadID   string   `json:"thread_id"`
	Limit      int      `json:"limit"`

	Clarify string `json:"clarify"`
}

func parseResponse(question, resp string) (store.EmailFilter, error) {
	cleaned := strings.TrimSpace(llm.StripFences(resp))

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var payload filterPayload
	if err := dec.Decode(&payload); err != nil {
		// A response outside the schema is an ambiguity, not a crash.
		return store.EmailFilter{}, &Ambiguous{Question: question}
	}

	if payload.Clarify != "" {
		return store.EmailFilter{}, &Ambiguous{
			Question:      question,
			clarification: payload.Clarify,
		}
	}

	var filter store.EmailFilter
	for _, raw := range payload.Categories {
		cat, ok := model.ParseCategory(raw)
		if !ok {
			return store.EmailFilter{}, &Ambiguous{Question: question}
		}
		filter.Categories = append(filter.Categories, cat)
	}
	filter.Sender = payload.Sender
	filter.Contains = payload.Contains
	filter.ThreadID = payload.ThreadID
	filter.Read = payload.Read
	filter.Limit = payload.Limit

	if payload.After != "" {
		t, err := time.Parse(time.RFC3339, payload.After)
		if err != nil {
			return store.EmailFilter{}, &Ambiguous{Question: question}
		}
		filter.After = &t
	}
	if payload.Before != "" {
		t, err := time.Parse(time.RFC3339, payload.Before)
		if err != nil {
			return store.EmailFilter{}, &Ambiguous{Question: question}
		}
		filter.Before = &t
	}

	return filter, nil
}
