package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/store"
	"github.com/nhle/email-assistant/internal/textutil"
)

const briefSystemPrompt = `You summarize a day's email into a morning brief. Given a list of emails and meetings, return a JSON object:

{"overview": string, "important_items": [string], "action_items": [string], "deadlines": [string], "priorities": [string]}

Keep each item to one sentence. Respond with the JSON only.`

// DailySummary is the structured morning brief.
type DailySummary struct {
	Overview       string   `json:"overview"`
	ImportantItems []string `json:"important_items"`
	ActionItems    []string `json:"action_items"`
	Deadlines      []string `json:"deadlines"`
	Priorities     []string `json:"priorities"`
}

// runBrief builds the morning brief reply from the last day's important
// mail and today's meetings.
func (a *Agent) runBrief(ctx context.Context) (string, error) {
	summary, err := a.DailySummary(ctx, time.Now())
	if err != nil {
		return "", err
	}
	return renderSummary(summary), nil
}

// DailySummary summarizes the 24 hours of Important and Follow-Up mail
// before now, plus the meetings scheduled for now's calendar day.
func (a *Agent) DailySummary(
	ctx context.Context, now time.Time,
) (DailySummary, error) {
	since := now.Add(-24 * time.Hour)
	emails, err := a.store.QueryEmails(ctx, store.EmailFilter{
		Categories: []model.Category{
			model.CategoryImportant,
			model.CategoryFollowUp,
		},
		After: &since,
		Limit: 50,
	})
	if err != nil {
		return DailySummary{}, fmt.Errorf("loading emails for brief: %w", err)
	}

	dayStart := time.Date(
		now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location(),
	)
	meetings, err := a.store.MeetingsBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return DailySummary{}, fmt.Errorf("loading meetings for brief: %w", err)
	}

	if len(emails) == 0 && len(meetings) == 0 {
		return DailySummary{
			Overview: "Nothing needs your attention right now.",
		}, nil
	}

	var b strings.Builder
	b.WriteString("Emails:\n")
	for _, e := range emails {
		fmt.Fprintf(&b, "- [%s] %s: %s\n",
			e.Category, e.Sender,
			textutil.CleanContent(e.Subject+". "+e.Content, 200),
		)
	}
	b.WriteString("\nMeetings today:\n")
	for _, m := range meetings {
		fmt.Fprintf(&b, "- %s at %s (%s)\n",
			m.Title, m.StartsAt.Format(time.Kitchen), m.Location,
		)
	}

	resp, err := a.llm.Complete(ctx, llm.Request{
		System: briefSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return DailySummary{}, fmt.Errorf("summarizing brief: %w", err)
	}

	var summary DailySummary
	if err := json.Unmarshal([]byte(llm.StripFences(resp)), &summary); err != nil {
		// Fall back to the raw text as the overview rather than losing
		// the brief entirely.
		return DailySummary{Overview: strings.TrimSpace(resp)}, nil
	}
	return summary, nil
}

func renderSummary(s DailySummary) string {
	var b strings.Builder
	b.WriteString(s.Overview)

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n\n%s:\n", title)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	section("Important", s.ImportantItems)
	section("Action items", s.ActionItems)
	section("Deadlines", s.Deadlines)
	section("Priorities", s.Priorities)

	return strings.TrimRight(b.String(), "\n")
}
