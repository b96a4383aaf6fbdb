package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nhle/email-assistant/internal/classify"
	"github.com/nhle/email-assistant/internal/extract"
	"github.com/nhle/email-assistant/internal/llm"
	"github.com/nhle/email-assistant/internal/model"
	"github.com/nhle/email-assistant/internal/notify"
	"github.com/nhle/email-assistant/internal/provider"
	"github.com/nhle/email-assistant/internal/store"
	"github.com/nhle/email-assistant/tests/testutil"
)

// fakeProvider serves a fixed message set and records label writes.
type fakeProvider struct {
	msgs   []provider.RawMessage
	labels map[string][]string
}

func newFakeProvider(msgs ...provider.RawMessage) *fakeProvider {
	return &fakeProvider{msgs: msgs, labels: make(map[string][]string)}
}

func (p *fakeProvider) Type() model.ProviderType { return model.ProviderIMAP }

func (p *fakeProvider) ListUnread(
	_ context.Context, _ time.Time, limit int,
) ([]provider.MessageRef, error) {
	refs := make([]provider.MessageRef, 0, len(p.msgs))
	for _, m := range p.msgs {
		refs = append(refs, provider.MessageRef{ID: m.ID, ThreadID: m.ThreadID})
		if limit > 0 && len(refs) == limit {
			break
		}
	}
	return refs, nil
}

func (p *fakeProvider) FetchBatch(
	_ context.Context, refs []provider.MessageRef,
) ([]provider.RawMessage, error) {
	byID := make(map[string]provider.RawMessage, len(p.msgs))
	for _, m := range p.msgs {
		byID[m.ID] = m
	}
	out := make([]provider.RawMessage, 0, len(refs))
	for _, ref := range refs {
		if m, ok := byID[ref.ID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *fakeProvider) ApplyLabel(_ context.Context, id, label string) error {
	p.labels[id] = append(p.labels[id], label)
	return nil
}

func (p *fakeProvider) MarkRead(context.Context, string, bool) error { return nil }

func (p *fakeProvider) SendReply(context.Context, string, string) error { return nil }

// scriptedCompleter answers classification and extraction prompts based
// on markers in the email content.
type scriptedCompleter struct{}

func (scriptedCompleter) Complete(
	_ context.Context, req llm.Request,
) (string, error) {
	prompt := req.Messages[len(req.Messages)-1].Content

	if strings.Contains(prompt, "BREAK") {
		return "", errors.New("model unavailable")
	}

	if strings.Contains(prompt, "Email date:") {
		// Extraction request.
		if strings.Contains(prompt, "sync at ten") {
			return `{"title": "Team sync", "datetime": "2025-03-15T10:00:00Z", "duration_minutes": 60}`, nil
		}
		if strings.Contains(prompt, "review at ten thirty") {
			return `{"title": "Design review", "datetime": "2025-03-15T10:30:00Z", "duration_minutes": 60}`, nil
		}
		return "null", nil
	}

	// Classification request.
	if strings.Contains(prompt, "sync at ten") ||
		strings.Contains(prompt, "review at ten thirty") {
		return `{"category": "Meetings", "confidence": 0.95}`, nil
	}
	if strings.Contains(prompt, "hard to place") {
		return `{"category": "Updates", "confidence": 0.3}`, nil
	}
	return `{"category": "Updates", "confidence": 0.9}`, nil
}

func msg(id, subject, content string) provider.RawMessage {
	return provider.RawMessage{
		ID:        id,
		ThreadID:  "t-" + id,
		Subject:   subject,
		Sender:    "alex@example.com",
		Content:   content,
		Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(t *testing.T, p provider.Provider) (*Engine, *store.SQLiteStore) {
	t.Helper()

	s := testutil.NewTestStore(t)
	completer := scriptedCompleter{}
	eng := NewEngine(
		s, p,
		classify.New(completer),
		extract.New(completer),
		notify.NewStoreNotifier(s),
		nil,
		Config{BatchSize: 50, Workers: 1, RetryCeiling: 3, Interval: time.Minute},
	)
	return eng, s
}

func TestCycleIngestsAndClassifies(t *testing.T) {
	p := newFakeProvider(
		msg("m1", "Newsletter", "weekly updates inside"),
		msg("m2", "Sync", "sync at ten tomorrow"),
	)
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	res, err := eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 2 processed", res)
	}

	e1, err := s.GetEmail(ctx, "m1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if e1.Category != model.CategoryUpdates {
		t.Errorf("m1 category = %v, want Updates", e1.Category)
	}

	e2, _ := s.GetEmail(ctx, "m2")
	if e2.Category != model.CategoryMeeting {
		t.Errorf("m2 category = %v, want Meetings", e2.Category)
	}

	m, err := s.MeetingForEmail(ctx, "m2")
	if err != nil {
		t.Fatalf("MeetingForEmail: %v", err)
	}
	if m == nil || m.Title != "Team sync" {
		t.Fatalf("meeting = %+v, want Team sync", m)
	}
	if m.Duration != time.Hour {
		t.Errorf("duration = %v, want 1h", m.Duration)
	}

	if got := p.labels["m1"]; len(got) != 1 || got[0] != "G.Updates" {
		t.Errorf("m1 labels = %v, want [G.Updates]", got)
	}
}

func TestCycleIsIdempotent(t *testing.T) {
	p := newFakeProvider(msg("m1", "Newsletter", "weekly updates inside"))
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	res, err := eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if res.Processed != 0 {
		t.Errorf("Processed = %d, want 0 on replay", res.Processed)
	}

	emails, err := s.QueryEmails(ctx, store.EmailFilter{})
	if err != nil {
		t.Fatalf("QueryEmails: %v", err)
	}
	if len(emails) != 1 {
		t.Errorf("stored emails = %d, want 1", len(emails))
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	p := newFakeProvider(
		msg("good", "Newsletter", "weekly updates inside"),
		msg("bad", "Garbled", "BREAK this one"),
	)
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	res, err := eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 processed 1 failed", res)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "bad" {
		t.Errorf("FailedIDs = %v", res.FailedIDs)
	}

	good, _ := s.GetEmail(ctx, "good")
	if good.Category != model.CategoryUpdates {
		t.Errorf("good category = %v", good.Category)
	}

	bad, _ := s.GetEmail(ctx, "bad")
	if bad.Category != model.CategoryUnclassified {
		t.Errorf("failed email category = %v, want Unclassified (never guessed)",
			bad.Category)
	}
	if bad.ClassifyAttempts != 1 {
		t.Errorf("attempts = %d, want 1", bad.ClassifyAttempts)
	}
}

func TestRetryCeilingMarksPermanent(t *testing.T) {
	p := newFakeProvider(msg("bad", "Garbled", "BREAK this one"))
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.RunCycle(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	bad, _ := s.GetEmail(ctx, "bad")
	if !bad.ClassifyFailed {
		t.Error("email not marked permanently failed after ceiling")
	}
	if bad.Category != model.CategoryUnclassified {
		t.Errorf("category = %v, want Unclassified", bad.Category)
	}

	// The retry queue must no longer offer it.
	pending, err := s.PendingClassification(ctx, 3, 10)
	if err != nil {
		t.Fatalf("PendingClassification: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	notifs, err := s.UnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("UnreadNotifications: %v", err)
	}
	found := false
	for _, n := range notifs {
		if n.Kind == model.KindClassificationFailed && n.EmailID == "bad" {
			found = true
		}
	}
	if !found {
		t.Error("no classification-failed notification recorded")
	}
}

func TestConflictFlaggedAcrossSameCycle(t *testing.T) {
	p := newFakeProvider(
		msg("m1", "Sync", "sync at ten tomorrow"),
		msg("m2", "Review", "review at ten thirty tomorrow"),
	)
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	meetings, err := s.ActiveMeetings(ctx)
	if err != nil {
		t.Fatalf("ActiveMeetings: %v", err)
	}
	if len(meetings) != 2 {
		t.Fatalf("meetings = %d, want 2 (conflicts are stored, not dropped)",
			len(meetings))
	}

	// The later-processed meeting records the earlier one as a conflict.
	var conflicted int
	for _, m := range meetings {
		conflicted += len(m.ConflictIDs)
	}
	if conflicted == 0 {
		t.Error("no meeting recorded a conflict id")
	}

	notifs, _ := s.UnreadNotifications(ctx)
	found := false
	for _, n := range notifs {
		if n.Kind == model.KindMeetingConflict {
			found = true
		}
	}
	if !found {
		t.Error("no conflict notification recorded")
	}
}

func TestReextractSupersedes(t *testing.T) {
	p := newFakeProvider(msg("m1", "Sync", "sync at ten tomorrow"))
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	orig, err := s.MeetingForEmail(ctx, "m1")
	if err != nil || orig == nil {
		t.Fatalf("MeetingForEmail: %v %v", orig, err)
	}

	replacement, err := eng.Reextract(ctx, "m1")
	if err != nil {
		t.Fatalf("Reextract: %v", err)
	}
	if replacement.ID == orig.ID {
		t.Error("replacement reused the old meeting id")
	}

	active, _ := s.ActiveMeetings(ctx)
	if len(active) != 1 {
		t.Fatalf("active meetings = %d, want 1", len(active))
	}
	if active[0].ID != replacement.ID {
		t.Errorf("active meeting = %s, want replacement %s",
			active[0].ID, replacement.ID)
	}
}

func TestReviewGateHoldsLabel(t *testing.T) {
	p := newFakeProvider(msg("m1", "Odd", "hard to place message"))

	s := testutil.NewTestStore(t)
	completer := scriptedCompleter{}
	eng := NewEngine(
		s, p,
		classify.New(completer),
		extract.New(completer),
		notify.NewStoreNotifier(s),
		nil,
		Config{Workers: 1, ReviewThreshold: 0.5},
	)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// Category stored, label write-back held for review.
	got, _ := s.GetEmail(ctx, "m1")
	if got.Category != model.CategoryUpdates {
		t.Errorf("category = %v, want Updates", got.Category)
	}
	if len(p.labels["m1"]) != 0 {
		t.Errorf("labels = %v, want none below review threshold", p.labels["m1"])
	}

	notifs, _ := s.UnreadNotifications(ctx)
	found := false
	for _, n := range notifs {
		if n.Kind == model.KindNeedsReview && n.EmailID == "m1" {
			found = true
		}
	}
	if !found {
		t.Error("no needs-review notification recorded")
	}
}

// outageProvider refuses to list until restored, then serves only
// messages newer than since, the way the real adapters filter.
type outageProvider struct {
	fakeProvider
	down bool
}

func (p *outageProvider) ListUnread(
	_ context.Context, since time.Time, limit int,
) ([]provider.MessageRef, error) {
	if p.down {
		return nil, errors.New("provider unreachable")
	}
	var refs []provider.MessageRef
	for _, m := range p.msgs {
		if !m.Timestamp.After(since) {
			continue
		}
		refs = append(refs, provider.MessageRef{ID: m.ID, ThreadID: m.ThreadID})
		if limit > 0 && len(refs) == limit {
			break
		}
	}
	return refs, nil
}

func TestOutageDoesNotAdvanceCursor(t *testing.T) {
	// The message arrives while the provider is unreachable. If the
	// failed cycle moved the cursor past its timestamp, the since
	// filter would hide it forever.
	p := &outageProvider{
		fakeProvider: fakeProvider{
			msgs:   []provider.RawMessage{msg("late", "Sync", "arrived during outage")},
			labels: make(map[string][]string),
		},
		down: true,
	}
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle during outage: %v", err)
	}

	cursor, err := s.LoadSyncCursor(ctx)
	if err != nil {
		t.Fatalf("LoadSyncCursor: %v", err)
	}
	if cursor == nil || !cursor.LastSyncAt.IsZero() {
		t.Fatalf("cursor advanced past a failed ingest: %+v", cursor)
	}

	p.down = false
	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle after recovery: %v", err)
	}

	got, err := s.GetEmail(ctx, "late")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if got == nil {
		t.Fatal("message that arrived during the outage was never ingested")
	}

	cursor, _ = s.LoadSyncCursor(ctx)
	if cursor == nil || cursor.LastSyncAt.IsZero() {
		t.Error("cursor not advanced after a successful ingest")
	}
}

// partialFetchProvider loses one message between listing and fetching.
type partialFetchProvider struct {
	fakeProvider
	dropID string
}

func (p *partialFetchProvider) FetchBatch(
	ctx context.Context, refs []provider.MessageRef,
) ([]provider.RawMessage, error) {
	kept := refs[:0]
	for _, ref := range refs {
		if ref.ID != p.dropID {
			kept = append(kept, ref)
		}
	}
	return p.fakeProvider.FetchBatch(ctx, kept)
}

func TestPartialFetchHoldsCursor(t *testing.T) {
	p := &partialFetchProvider{
		fakeProvider: fakeProvider{
			msgs: []provider.RawMessage{
				msg("ok", "Newsletter", "weekly updates inside"),
				msg("lost", "Sync", "fetch keeps failing"),
			},
			labels: make(map[string][]string),
		},
		dropID: "lost",
	}
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	res, err := eng.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("result = %+v, want the fetched message processed", res)
	}

	// The dropped message must stay listable on the next cycle.
	cursor, err := s.LoadSyncCursor(ctx)
	if err != nil {
		t.Fatalf("LoadSyncCursor: %v", err)
	}
	if cursor == nil || !cursor.LastSyncAt.IsZero() {
		t.Errorf("cursor advanced past an unfetched message: %+v", cursor)
	}
}

// cancellingCompleter cancels the cycle's context on first use, as if
// shutdown arrived while the model call was in flight.
type cancellingCompleter struct {
	cancel context.CancelFunc
}

func (c *cancellingCompleter) Complete(
	ctx context.Context, _ llm.Request,
) (string, error) {
	c.cancel()
	return "", ctx.Err()
}

func TestCancellationPreservesRetryBudget(t *testing.T) {
	p := newFakeProvider(msg("m1", "Newsletter", "weekly updates inside"))
	s := testutil.NewTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &cancellingCompleter{cancel: cancel}
	eng := NewEngine(
		s, p,
		classify.New(completer),
		extract.New(completer),
		notify.NewStoreNotifier(s),
		nil,
		Config{BatchSize: 50, Workers: 1, RetryCeiling: 3, Interval: time.Minute},
	)

	for i := 0; i < 3; i++ {
		if _, err := eng.RunCycle(ctx); err == nil {
			t.Fatalf("cycle %d: expected an error from the cancelled cycle", i)
		}
	}

	// A cancelled attempt must not burn retry budget or guess a category.
	bg := context.Background()
	got, err := s.GetEmail(bg, "m1")
	if err != nil || got == nil {
		t.Fatalf("GetEmail: %v %v", got, err)
	}
	if got.Category != model.CategoryUnclassified {
		t.Errorf("category = %v, want Unclassified", got.Category)
	}
	if got.ClassifyAttempts != 0 {
		t.Errorf("attempts = %d, want 0", got.ClassifyAttempts)
	}
	if got.ClassifyFailed {
		t.Error("email marked permanently failed by cancellation")
	}

	pending, err := s.PendingClassification(bg, 3, 10)
	if err != nil {
		t.Fatalf("PendingClassification: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1 (still retryable)", len(pending))
	}
}

func TestClassificationKeepsProviderLabels(t *testing.T) {
	m := msg("m1", "Newsletter", "weekly updates inside")
	m.Labels = []string{"INBOX"}
	p := newFakeProvider(m)
	eng, s := newTestEngine(t, p)
	ctx := context.Background()

	if _, err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got, err := s.GetEmail(ctx, "m1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	want := []string{"INBOX", "G.Updates"}
	if len(got.Labels) != len(want) {
		t.Fatalf("labels = %v, want %v", got.Labels, want)
	}
	for i := range want {
		if got.Labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", got.Labels, want)
		}
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	p := newFakeProvider()
	eng, _ := newTestEngine(t, p)

	eng.running.Store(true)
	defer eng.running.Store(false)

	if _, err := eng.RunCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("err = %v, want ErrCycleRunning", err)
	}
}
