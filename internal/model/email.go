package model

import (
	"strings"
	"time"
)

// ProviderType identifies the mail provider an email was fetched from.
type ProviderType string

const (
	ProviderGmail ProviderType = "gmail"
	ProviderIMAP  ProviderType = "imap"
)

// Category is the closed set of classification labels an email can carry.
type Category string

const (
	CategoryUnclassified Category = "Unclassified"
	CategoryMeeting      Category = "Meetings"
	CategoryImportant    Category = "Important"
	CategoryFollowUp     Category = "Follow-Up"
	CategorySpam         Category = "Spam"
	CategoryUpdates      Category = "Updates"
	CategorySocial       Category = "Social"
	CategoryPromotions   Category = "Promotions"
)

// LabelPrefix namespaces category labels written back to the provider so
// they never collide with provider-native labels.
const LabelPrefix = "G."

// Categories returns every category the classifier may assign.
// CategoryUnclassified is excluded: it is the pre-classification state,
// never a classifier output.
func Categories() []Category {
	return []Category{
		CategoryMeeting,
		CategoryImportant,
		CategoryFollowUp,
		CategorySpam,
		CategoryUpdates,
		CategorySocial,
		CategoryPromotions,
	}
}

// ParseCategory maps a free-text label onto a known category.
// Matching is case-insensitive and tolerates surrounding whitespace and
// punctuation variants like "follow up" or "follow-up".
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.Trim(norm, `"'.`)
	norm = strings.ReplaceAll(norm, " ", "-")

	for _, c := range Categories() {
		if norm == strings.ToLower(string(c)) {
			return c, true
		}
	}

	// Singular/plural slack for the meeting label.
	if norm == "meeting" {
		return CategoryMeeting, true
	}

	return CategoryUnclassified, false
}

// Label returns the provider label name for this category,
// e.g. "G.Meetings".
func (c Category) Label() string {
	return LabelPrefix + string(c)
}

// Email is the stored representation of a synced message.
type Email struct {
	// ID is the provider-assigned message identifier (unique per provider).
	ID string `json:"id"`

	// ThreadID groups messages belonging to the same conversation thread.
	ThreadID string `json:"thread_id"`

	Subject    string   `json:"subject"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`

	// Timestamp is when the message was sent, as reported by the provider.
	Timestamp time.Time `json:"timestamp"`

	// Category is CategoryUnclassified until classification succeeds.
	Category Category `json:"category"`

	// ClassifyAttempts counts failed classification attempts. Once it
	// reaches the configured ceiling, ClassifyFailed is set and the email
	// is no longer retried.
	ClassifyAttempts int  `json:"classify_attempts"`
	ClassifyFailed   bool `json:"classify_failed"`

	Read   bool     `json:"read"`
	Labels []string `json:"labels"`

	Provider ProviderType `json:"provider"`

	// SyncedAt is when this record was last written by the sync engine.
	SyncedAt time.Time `json:"synced_at"`
}

// SyncCursor tracks the sync engine's progress. It lives for the engine's
// running lifetime and is reset on restart unless checkpointed through
// the store.
type SyncCursor struct {
	// LastSyncAt is the completion time of the last successful cycle.
	LastSyncAt time.Time `json:"last_sync_at"`

	// BatchStart and BatchEnd bound the in-flight batch, zero when idle.
	BatchStart time.Time `json:"batch_start"`
	BatchEnd   time.Time `json:"batch_end"`
}
