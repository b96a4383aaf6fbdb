// Package extract pulls structured meeting details out of emails that
// were classified as meetings.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/textutil"
)

const systemPrompt = `You extract meeting details from emails. Given an email, return a JSON object with these fields:

{"title": string, "datetime": string (ISO 8601), "duration_minutes": number or null, "location": string or null, "attendees": [string] or null, "description": string or null}

Rules:
- Resolve relative dates ("tomorrow", "next Tuesday") against the email date given in the prompt, never against today.
- If the email does not describe a concrete meeting, respond with exactly: null
- Respond with the JSON only, no other text.`

// Failure indicates the extractor could not produce a meeting from an
// email. The email keeps its category; no meeting record is created.
type Failure struct {
	EmailID string
	Reason  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("no meeting extracted from email %s: %s", f.EmailID, f.Reason)
}

// Extractor derives meeting records from emails using a language model.
type Extractor struct {
	llm llm.Completer
}

// New creates an Extractor.
func New(completer llm.Completer) *Extractor {
	return &Extractor{llm: completer}
}

// Extract parses meeting details from the email. The email's own
// timestamp is embedded in the prompt as the date anchor so the same
// email always resolves "tomorrow" to the same day, no matter when the
// extraction runs. Returns a Failure when the email holds no meeting.
func (e *Extractor) Extract(
	ctx context.Context,
	email *model.Email,
) (model.Meeting, error) {
	content := textutil.CleanContent(email.Content, textutil.ContentMaxLen)

	prompt := fmt.Sprintf(
		"Email date: %s\nFrom: %s\nSubject: %s\n\n%s",
		email.Timestamp.Format(time.RFC3339),
		email.Sender,
		textutil.CleanSubject(email.Subject),
		content,
	)

	resp, err := e.llm.Complete(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return model.Meeting{}, fmt.Errorf(
			"extracting meeting from email %s: %w", email.ID, err,
		)
	}

	return parseResponse(email.ID, resp)
}

type meetingPayload struct {
	Title           string   `json:"title"`
	Datetime        string   `json:"datetime"`
	DurationMinutes *int     `json:"duration_minutes"`
	Location        string   `json:"location"`
	Attendees       []string `json:"attendees"`
	Description     string   `json:"description"`
}

func parseResponse(emailID, resp string) (model.Meeting, error) {
	cleaned := strings.TrimSpace(llm.StripFences(resp))

	if cleaned == "" || strings.EqualFold(cleaned, "null") {
		return model.Meeting{}, &Failure{
			EmailID: emailID,
			Reason:  "model reported no meeting",
		}
	}

	var payload meetingPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return model.Meeting{}, &Failure{
			EmailID: emailID,
			Reason:  fmt.Sprintf("unparseable response: %v", err),
		}
	}

	if payload.Title == "" || payload.Datetime == "" {
		return model.Meeting{}, &Failure{
			EmailID: emailID,
			Reason:  "response missing title or datetime",
		}
	}

	startsAt, err := parseDatetime(payload.Datetime)
	if err != nil {
		return model.Meeting{}, &Failure{
			EmailID: emailID,
			Reason:  fmt.Sprintf("bad datetime %q: %v", payload.Datetime, err),
		}
	}

	duration := model.DefaultMeetingDuration
	if payload.DurationMinutes != nil && *payload.DurationMinutes > 0 {
		duration = time.Duration(*payload.DurationMinutes) * time.Minute
	}

	return model.Meeting{
		EmailID:     emailID,
		Title:       payload.Title,
		StartsAt:    startsAt,
		Duration:    duration,
		Location:    payload.Location,
		Attendees:   normalizeAttendees(payload.Attendees),
		Description: payload.Description,
	}, nil
}

// parseDatetime accepts RFC 3339 or a bare local-style timestamp, which
// models emit when the email gave no timezone. Bare timestamps are read
// as UTC.
func parseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// normalizeAttendees lowercases email addresses and drops duplicates,
// preserving first-seen order. Display names pass through untouched.
func normalizeAttendees(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.ContainsRune(a, '@') {
			a = strings.ToLower(a)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
