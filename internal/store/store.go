package store

import (
	"context"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// EmailFilter is the closed predicate set used to query stored emails.
// It is the only query form the translator may produce; the store layer
// interprets it, so no free-form query text ever reaches SQL.
type EmailFilter struct {
	// Categories restricts to any of the listed categories.
	Categories []model.Category

	// Sender matches as a case-insensitive substring of the sender.
	Sender string

	// After and Before bound the email timestamp (half-open: inclusive
	// of After, exclusive of Before).
	After  *time.Time
	Before *time.Time

	// Read filters by read-state when non-nil.
	Read *bool

	// Contains matches as a substring of subject or content.
	Contains string

	// ThreadID restricts to a single conversation thread.
	ThreadID string

	Limit  int
	Offset int
}

// Store defines the persistence interface for emails, meetings,
// conversation turns, notifications, and the sync cursor checkpoint.
type Store interface {
	// === Emails ===

	// InsertEmail inserts a draft email record with category
	// Unclassified. It reports false when a record with the same
	// provider id already exists, leaving the existing record untouched.
	InsertEmail(ctx context.Context, email model.Email) (bool, error)

	GetEmail(ctx context.Context, id string) (*model.Email, error)
	QueryEmails(ctx context.Context, filter EmailFilter) ([]model.Email, error)
	EmailsInThread(ctx context.Context, threadID string) ([]model.Email, error)
	SetEmailRead(ctx context.Context, id string, read bool) error

	// PendingClassification returns unclassified emails that have not
	// exhausted their retry budget, oldest first.
	PendingClassification(ctx context.Context, ceiling, limit int) ([]model.Email, error)

	// CompleteClassification atomically records a successful
	// classification: category, label set, synced-at, and the extracted
	// meeting when there is one. All writes for the email commit
	// together or not at all.
	CompleteClassification(
		ctx context.Context,
		emailID string,
		category model.Category,
		labels []string,
		meeting *model.Meeting,
	) error

	// RecordClassificationFailure increments the email's attempt count.
	// When the count reaches ceiling the email is marked permanently
	// failed and permanent is true.
	RecordClassificationFailure(
		ctx context.Context,
		emailID string,
		ceiling int,
	) (attempts int, permanent bool, err error)

	// === Meetings ===

	// ActiveMeetings returns all non-superseded meetings ordered by
	// start time ascending.
	ActiveMeetings(ctx context.Context) ([]model.Meeting, error)

	// MeetingsBetween returns non-superseded meetings whose start falls
	// in [from, to), ordered by start time.
	MeetingsBetween(ctx context.Context, from, to time.Time) ([]model.Meeting, error)

	MeetingForEmail(ctx context.Context, emailID string) (*model.Meeting, error)

	// SupersedeMeeting marks the old record superseded and inserts the
	// replacement in one transaction.
	SupersedeMeeting(ctx context.Context, oldID string, replacement model.Meeting) error

	// === Conversation turns ===

	AppendTurn(ctx context.Context, turn model.ConversationTurn) error
	RecentTurns(ctx context.Context, limit int) ([]model.ConversationTurn, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	UnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// === Sync cursor checkpoint ===

	SaveSyncCursor(ctx context.Context, cursor model.SyncCursor) error

	// LoadSyncCursor returns nil when no cursor has been checkpointed.
	LoadSyncCursor(ctx context.Context) (*model.SyncCursor, error)
}
