// Package classify assigns categories to emails with a language model.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/textutil"
)

const systemPrompt = `You are an email classification assistant. Classify each email into exactly one of these categories:

- Meetings: meeting invitations, scheduling requests, calendar events
- Important: urgent matters, deadlines, messages from key contacts requiring action
- Follow-Up: emails that need a reply or further action from the recipient
- Spam: unsolicited bulk mail, phishing, scams
- Updates: notifications, receipts, shipping updates, service announcements
- Social: messages from social networks, event invitations from friends
- Promotions: marketing, offers, discounts, newsletters

Respond with a JSON object: {"category": "<category>", "confidence": <0.0-1.0>}
Respond with the JSON only, no other text.`

// Result is a classification outcome.
type Result struct {
	Category   model.Category
	Confidence float64
}

// Error wraps a classification failure. The email stays unclassified;
// the caller decides whether to retry.
type Error struct {
	EmailID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classifying email %s: %v", e.EmailID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classifier categorizes emails using a language model.
type Classifier struct {
	llm llm.Completer
}

// New creates a Classifier.
func New(completer llm.Completer) *Classifier {
	return &Classifier{llm: completer}
}

// Classify assigns a category to the email. The subject and content are
// cleaned before prompting so HTML and signature noise do not skew the
// result. Earlier emails from the same thread may be passed as history
// to give the model conversational context; they are summarized into
// the prompt, oldest first. A failed or unparseable response returns an
// Error and leaves the category decision to the caller; it never
// guesses.
func (c *Classifier) Classify(
	ctx context.Context,
	email *model.Email,
	history []model.Email,
) (Result, error) {
	subject := textutil.CleanSubject(email.Subject)
	content := textutil.CleanContent(email.Content, textutil.ContentMaxLen)

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Earlier in this thread:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s: %s\n",
				h.Sender, textutil.CleanContent(h.Content, 200))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s", email.Sender, subject, content)
	prompt := b.String()

	resp, err := c.llm.Complete(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Result{}, &Error{EmailID: email.ID, Err: err}
	}

	result, err := parseResponse(resp)
	if err != nil {
		return Result{}, &Error{EmailID: email.ID, Err: err}
	}
	return result, nil
}

// parseResponse decodes the model's JSON answer. Models sometimes reply
// with a bare category label instead of JSON; that is accepted as a
// fallback with full confidence.
func parseResponse(resp string) (Result, error) {
	cleaned := llm.StripFences(resp)

	var payload struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		cat, ok := model.ParseCategory(payload.Category)
		if !ok {
			return Result{}, fmt.Errorf(
				"unknown category %q in response", payload.Category,
			)
		}
		// A reported zero is kept: it is the least confident answer,
		// not an absent one, and must reach the review gate.
		conf := payload.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		return Result{Category: cat, Confidence: conf}, nil
	}

	// Plain-label fallback: take the first line as the category.
	line := cleaned
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if cat, ok := model.ParseCategory(line); ok {
		return Result{Category: cat, Confidence: 1.0}, nil
	}

	return Result{}, fmt.Errorf("unparseable classification response %q", resp)
}
