package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nhle/email-assistant/internal/convo"
	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/provider"
	"github.com/nhle/email-assistant/internal/query"
	"github.com/nhle/email-assistant/tests/testutil"
)

// scriptedCompleter dispatches on the system prompt so one fake serves
// routing, translation, and chat.
type scriptedCompleter struct {
	route     string
	filter    string
	chatReply string
}

func (f *scriptedCompleter) Complete(
	_ context.Context, req llm.Request,
) (string, error) {
	switch {
	case strings.Contains(req.System, "route requests"):
		return f.route, nil
	case strings.Contains(req.System, "JSON filter"):
		return f.filter, nil
	default:
		return f.chatReply, nil
	}
}

func seedEmails(t *testing.T, s interface {
	InsertEmail(context.Context, model.Email) (bool, error)
}) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	emails := []model.Email{
		{
			ID: "e1", ThreadID: "t1", Subject: "Budget review",
			Sender: "boss@example.com", Content: "Please review the budget.",
			Timestamp: base, Category: model.CategoryImportant,
			Provider: model.ProviderGmail, SyncedAt: base,
		},
		{
			ID: "e2", ThreadID: "t2", Subject: "50% off everything",
			Sender: "deals@shop.com", Content: "Sale ends soon!",
			Timestamp: base.Add(time.Hour), Category: model.CategoryPromotions,
			Provider: model.ProviderGmail, SyncedAt: base,
		},
	}
	for _, e := range emails {
		if _, err := s.InsertEmail(ctx, e); err != nil {
			t.Fatalf("seeding %s: %v", e.ID, err)
		}
	}
}

func TestQueryFlow(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedEmails(t, s)

	fake := &scriptedCompleter{
		route:  "query",
		filter: `{"sender": "boss"}`,
	}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), nil)

	reply, err := a.HandleInput(context.Background(), "emails from my boss")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if !strings.Contains(reply, "Budget review") {
		t.Errorf("reply missing matched email: %q", reply)
	}
	if strings.Contains(reply, "50% off") {
		t.Errorf("reply includes non-matching email: %q", reply)
	}
}

func TestQueryFlowAmbiguousReturnsClarification(t *testing.T) {
	s := testutil.NewTestStore(t)

	fake := &scriptedCompleter{
		route:  "query",
		filter: `{"clarify": "Which sender do you mean?"}`,
	}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), nil)

	reply, err := a.HandleInput(context.Background(), "emails from him")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if reply != "Which sender do you mean?" {
		t.Errorf("reply = %q, want clarification", reply)
	}
}

func TestChatFlowFallback(t *testing.T) {
	s := testutil.NewTestStore(t)

	fake := &scriptedCompleter{
		route:     "something unexpected",
		chatReply: "Hello!",
	}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), nil)

	reply, err := a.HandleInput(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if reply != "Hello!" {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleInputRecordsTurns(t *testing.T) {
	s := testutil.NewTestStore(t)

	fake := &scriptedCompleter{route: "chat", chatReply: "Sure."}
	memory := convo.NewMemory(10)
	a := New(s, fake, query.New(fake), memory, nil)

	if _, err := a.HandleInput(context.Background(), "remember this"); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}

	turns := memory.Turns()
	if len(turns) != 2 {
		t.Fatalf("memory turns = %d, want 2", len(turns))
	}
	if turns[0].Role != model.RoleUser || turns[1].Role != model.RoleAssistant {
		t.Errorf("turn roles = %v, %v", turns[0].Role, turns[1].Role)
	}

	stored, err := s.RecentTurns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("persisted turns = %d, want 2", len(stored))
	}
}

func TestBriefFlowEmptyInbox(t *testing.T) {
	s := testutil.NewTestStore(t)

	fake := &scriptedCompleter{route: "brief"}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), nil)

	reply, err := a.HandleInput(context.Background(), "what's my day look like")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if !strings.Contains(reply, "Nothing needs your attention") {
		t.Errorf("reply = %q", reply)
	}
}

// fakeMail records reply and read-state calls.
type fakeMail struct {
	sent     map[string]string
	markedID string
}

func (f *fakeMail) Type() model.ProviderType { return model.ProviderGmail }

func (f *fakeMail) ListUnread(
	context.Context, time.Time, int,
) ([]provider.MessageRef, error) {
	return nil, nil
}

func (f *fakeMail) FetchBatch(
	context.Context, []provider.MessageRef,
) ([]provider.RawMessage, error) {
	return nil, nil
}

func (f *fakeMail) ApplyLabel(context.Context, string, string) error { return nil }

func (f *fakeMail) MarkRead(_ context.Context, id string, read bool) error {
	if read {
		f.markedID = id
	}
	return nil
}

func (f *fakeMail) SendReply(_ context.Context, id, body string) error {
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[id] = body
	return nil
}

func TestSendReply(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedEmails(t, s)
	ctx := context.Background()

	mail := &fakeMail{}
	fake := &scriptedCompleter{}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), mail)

	if err := a.SendReply(ctx, "e1", "On it, will review today."); err != nil {
		t.Fatalf("SendReply: %v", err)
	}

	if mail.sent["e1"] != "On it, will review today." {
		t.Errorf("sent = %q", mail.sent["e1"])
	}
	if mail.markedID != "e1" {
		t.Errorf("provider read flag not set for e1")
	}

	got, err := s.GetEmail(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if !got.Read {
		t.Error("stored email not marked read")
	}
}

func TestSendReplyWithoutProvider(t *testing.T) {
	s := testutil.NewTestStore(t)
	fake := &scriptedCompleter{}
	a := New(s, fake, query.New(fake), convo.NewMemory(10), nil)

	if err := a.SendReply(context.Background(), "e1", "hi"); err == nil {
		t.Fatal("expected error without a mail provider")
	}
}

func TestRenderSummarySections(t *testing.T) {
	got := renderSummary(DailySummary{
		Overview:    "Busy morning.",
		ActionItems: []string{"Reply to the budget thread"},
		Deadlines:   []string{"Report due Friday"},
	})

	for _, want := range []string{
		"Busy morning.", "Action items:", "Reply to the budget thread",
		"Deadlines:", "Report due Friday",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Important:") {
		t.Error("empty section rendered")
	}
}
