package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
)

type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.Request
}

func (f *fakeCompleter) Complete(
	_ context.Context, req llm.Request,
) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

func newTestTranslator(fake *fakeCompleter) *Translator {
	tr := New(fake)
	tr.now = func() time.Time {
		return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	}
	return tr
}

func TestTranslateUnreadLastWeek(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"read": false, "after": "2025-03-07T00:00:00Z", "before": "2025-03-14T00:00:00Z"}`,
	}
	tr := newTestTranslator(fake)

	filter, err := tr.Translate(
		context.Background(), "unread emails from last week", nil,
	)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if filter.Read == nil || *filter.Read {
		t.Errorf("Read = %v, want false", filter.Read)
	}
	wantAfter := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	if filter.After == nil || !filter.After.Equal(wantAfter) {
		t.Errorf("After = %v, want %v", filter.After, wantAfter)
	}
	if filter.Before == nil {
		t.Error("Before = nil, want set")
	}
}

func TestTranslateCategories(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"categories": ["Important", "Follow-Up"], "limit": 10}`,
	}
	tr := newTestTranslator(fake)

	filter, err := tr.Translate(context.Background(), "what needs my attention", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(filter.Categories) != 2 ||
		filter.Categories[0] != model.CategoryImportant ||
		filter.Categories[1] != model.CategoryFollowUp {
		t.Errorf("Categories = %v", filter.Categories)
	}
	if filter.Limit != 10 {
		t.Errorf("Limit = %d, want 10", filter.Limit)
	}
}

func TestTranslateClarifyResponse(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"clarify": "Which sender do you mean?"}`,
	}
	tr := newTestTranslator(fake)

	_, err := tr.Translate(context.Background(), "emails from him", nil)
	var amb *Ambiguous
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *Ambiguous", err)
	}
	if amb.Clarification() != "Which sender do you mean?" {
		t.Errorf("Clarification = %q", amb.Clarification())
	}
}

func TestTranslateUnknownFieldRejected(t *testing.T) {
	fake := &fakeCompleter{
		response: `{"sql": "SELECT * FROM emails"}`,
	}
	tr := newTestTranslator(fake)

	_, err := tr.Translate(context.Background(), "show everything", nil)
	var amb *Ambiguous
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *Ambiguous for off-schema response", err)
	}
	if amb.Clarification() == "" {
		t.Error("default clarification is empty")
	}
}

func TestTranslateNonJSONResponse(t *testing.T) {
	fake := &fakeCompleter{response: "I'm not sure what you mean."}
	tr := newTestTranslator(fake)

	_, err := tr.Translate(context.Background(), "blorp", nil)
	var amb *Ambiguous
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *Ambiguous", err)
	}
}

func TestTranslateInjectsDateAndHistory(t *testing.T) {
	fake := &fakeCompleter{response: `{"sender": "alex"}`}
	tr := newTestTranslator(fake)

	history := []model.ConversationTurn{
		{Role: model.RoleUser, Content: "emails from alex"},
		{Role: model.RoleAssistant, Content: "found 4 emails from alex"},
	}
	if _, err := tr.Translate(
		context.Background(), "only the unread ones", history,
	); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if len(fake.lastReq.Messages) != 3 {
		t.Fatalf("messages = %d, want history plus question", len(fake.lastReq.Messages))
	}
	last := fake.lastReq.Messages[2].Content
	if !strings.Contains(last, "Current date: 2025-03-14T12:00:00Z") {
		t.Errorf("prompt missing date anchor: %q", last)
	}
	if !strings.Contains(last, "only the unread ones") {
		t.Errorf("prompt missing question: %q", last)
	}
}
