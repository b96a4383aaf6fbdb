package model

import "time"

// DefaultMeetingDuration is assumed when the source email gives a start
// time but no duration or end time.
const DefaultMeetingDuration = 30 * time.Minute

// Meeting is a structured meeting record extracted from an email.
// A meeting always originates from exactly one email. Records are never
// mutated after creation: re-extraction inserts a replacement row and
// marks the old one superseded, preserving audit history.
type Meeting struct {
	// ID is an internally generated UUID.
	ID string `json:"id"`

	// EmailID is the owning email's provider-assigned identifier.
	EmailID string `json:"email_id"`

	Title string `json:"title"`

	// StartsAt is an absolute instant. Extraction fails rather than
	// producing a meeting with a zero start time.
	StartsAt time.Time `json:"starts_at"`

	Duration time.Duration `json:"duration"`

	// Location is free text: a room, an address, or a video link.
	Location string `json:"location,omitempty"`

	// Attendees are deduplicated by lowercase address when the entries
	// are email addresses.
	Attendees []string `json:"attendees,omitempty"`

	Description string `json:"description,omitempty"`

	// ConflictIDs lists stored meetings whose time windows overlap this
	// one. Advisory only: conflicting meetings are stored regardless.
	ConflictIDs []string `json:"conflict_ids,omitempty"`

	Superseded bool `json:"superseded"`

	CreatedAt time.Time `json:"created_at"`
}

// EndsAt returns the exclusive end of the meeting's half-open interval
// [StartsAt, EndsAt).
func (m Meeting) EndsAt() time.Time {
	return m.StartsAt.Add(m.Duration)
}
