package model

import "time"

// NotificationKind distinguishes the events the pipeline surfaces.
type NotificationKind string

const (
	KindMeetingReminder      NotificationKind = "meeting_reminder"
	KindMeetingConflict      NotificationKind = "meeting_conflict"
	KindClassificationFailed NotificationKind = "classification_failed"
	KindNeedsReview          NotificationKind = "needs_review"
)

// Notification records an event surfaced to the user. Delivery transport
// is out of scope; the pipeline only decides what to notify and when.
type Notification struct {
	ID string `json:"id"`

	Kind NotificationKind `json:"kind"`

	// EmailID and MeetingID link back to the originating records; either
	// may be empty depending on the kind.
	EmailID   string `json:"email_id,omitempty"`
	MeetingID string `json:"meeting_id,omitempty"`

	Message string `json:"message"`

	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
