package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/email-assistant/internal/model"
)

// insertMeetingTx inserts a meeting row inside an existing transaction.
func insertMeetingTx(ctx context.Context, tx *sqlx.Tx, m model.Meeting) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Duration <= 0 {
		m.Duration = model.DefaultMeetingDuration
	}

	attendees, err := marshalStrings(m.Attendees)
	if err != nil {
		return fmt.Errorf("marshaling attendees for meeting %s: %w", m.ID, err)
	}
	conflicts, err := marshalStrings(m.ConflictIDs)
	if err != nil {
		return fmt.Errorf("marshaling conflicts for meeting %s: %w", m.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meetings (
			id, email_id, title, starts_at, duration_sec,
			location, attendees, description, conflict_ids,
			superseded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.EmailID, m.Title, m.StartsAt.UTC(),
		int(m.Duration/time.Second),
		m.Location, attendees, m.Description, conflicts,
		boolToInt(m.Superseded), m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting meeting %s: %w", m.ID, err)
	}

	return nil
}

// ActiveMeetings returns all non-superseded meetings ordered by start
// time ascending.
func (s *SQLiteStore) ActiveMeetings(
	ctx context.Context,
) ([]model.Meeting, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM meetings WHERE superseded = 0 ORDER BY starts_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying meetings: %w", err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// MeetingsBetween returns non-superseded meetings starting in [from, to),
// ordered by start time ascending.
func (s *SQLiteStore) MeetingsBetween(
	ctx context.Context,
	from, to time.Time,
) ([]model.Meeting, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM meetings
		WHERE superseded = 0 AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying meetings between %s and %s: %w", from, to, err)
	}
	defer rows.Close()

	return collectMeetings(rows)
}

// MeetingForEmail returns the current (non-superseded) meeting derived
// from an email, or nil when the email produced none.
func (s *SQLiteStore) MeetingForEmail(
	ctx context.Context,
	emailID string,
) (*model.Meeting, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM meetings
		WHERE email_id = ? AND superseded = 0
		ORDER BY created_at DESC LIMIT 1`,
		emailID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying meeting for email %s: %w", emailID, err)
	}
	defer rows.Close()

	meetings, err := collectMeetings(rows)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, nil
	}
	return &meetings[0], nil
}

// SupersedeMeeting marks the old record superseded and inserts the
// replacement atomically. The old row is kept for audit history.
func (s *SQLiteStore) SupersedeMeeting(
	ctx context.Context,
	oldID string,
	replacement model.Meeting,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE meetings SET superseded = 1 WHERE id = ?", oldID,
	)
	if err != nil {
		return fmt.Errorf("superseding meeting %s: %w", oldID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking supersede of meeting %s: %w", oldID, err)
	} else if n == 0 {
		return fmt.Errorf("superseding meeting %s: not found", oldID)
	}

	if err := insertMeetingTx(ctx, tx, replacement); err != nil {
		return err
	}

	return tx.Commit()
}

// collectMeetings drains a result set into meeting values.
func collectMeetings(rows *sqlx.Rows) ([]model.Meeting, error) {
	var meetings []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// scanMeeting scans a meeting row from a sqlx.Rows result set.
func scanMeeting(rows *sqlx.Rows) (model.Meeting, error) {
	var (
		m             model.Meeting
		durationSec   int64
		attendees     string
		conflicts     string
		supersededInt int
		startsAt      time.Time
		createdAt     time.Time
	)

	err := rows.Scan(
		&m.ID, &m.EmailID, &m.Title, &startsAt, &durationSec,
		&m.Location, &attendees, &m.Description, &conflicts,
		&supersededInt, &createdAt,
	)
	if err != nil {
		return model.Meeting{}, fmt.Errorf("scanning meeting row: %w", err)
	}

	m.StartsAt = startsAt
	m.CreatedAt = createdAt
	m.Duration = time.Duration(durationSec) * time.Second
	m.Superseded = supersededInt != 0

	if m.Attendees, err = unmarshalStrings(attendees); err != nil {
		return model.Meeting{}, err
	}
	if m.ConflictIDs, err = unmarshalStrings(conflicts); err != nil {
		return model.Meeting{}, err
	}

	return m, nil
}
