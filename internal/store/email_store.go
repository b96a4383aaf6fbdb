package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/email-assistant/internal/model"
)

// InsertEmail inserts a draft email record. Existing records with the
// same provider id are left untouched; the return value reports whether
// a new row was written.
func (s *SQLiteStore) InsertEmail(
	ctx context.Context,
	email model.Email,
) (bool, error) {
	recipients, err := marshalStrings(email.Recipients)
	if err != nil {
		return false, fmt.Errorf("marshaling recipients for email %s: %w", email.ID, err)
	}
	labels, err := marshalStrings(email.Labels)
	if err != nil {
		return false, fmt.Errorf("marshaling labels for email %s: %w", email.ID, err)
	}

	category := email.Category
	if category == "" {
		category = model.CategoryUnclassified
	}
	syncedAt := email.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			id, thread_id, subject, sender, recipients, content,
			timestamp, category, classify_attempts, classify_failed,
			read, labels, provider, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, email.ThreadID, email.Subject, email.Sender,
		recipients, email.Content,
		email.Timestamp.UTC(), string(category),
		email.ClassifyAttempts, boolToInt(email.ClassifyFailed),
		boolToInt(email.Read), labels, string(email.Provider),
		syncedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting email %s: %w", email.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result for email %s: %w", email.ID, err)
	}

	return n > 0, nil
}

// GetEmail retrieves a single email by its provider id. Returns nil when
// the email does not exist.
func (s *SQLiteStore) GetEmail(
	ctx context.Context,
	id string,
) (*model.Email, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM emails WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("getting email %s: %w", id, err)
		}
		return nil, nil
	}

	email, err := scanEmail(rows)
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// QueryEmails retrieves emails matching the filter, ordered by timestamp
// descending.
func (s *SQLiteStore) QueryEmails(
	ctx context.Context,
	filter EmailFilter,
) ([]model.Email, error) {
	var conditions []string
	var args []interface{}

	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		conditions = append(conditions,
			"category IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Sender != "" {
		conditions = append(conditions, "sender LIKE ? COLLATE NOCASE")
		args = append(args, "%"+filter.Sender+"%")
	}
	if filter.After != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.After.UTC())
	}
	if filter.Before != nil {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Before.UTC())
	}
	if filter.Read != nil {
		conditions = append(conditions, "read = ?")
		args = append(args, boolToInt(*filter.Read))
	}
	if filter.Contains != "" {
		conditions = append(conditions, "(subject LIKE ? OR content LIKE ?)")
		q := "%" + filter.Contains + "%"
		args = append(args, q, q)
	}
	if filter.ThreadID != "" {
		conditions = append(conditions, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}

	query := "SELECT * FROM emails"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}

// EmailsInThread retrieves all emails in a thread, oldest first.
func (s *SQLiteStore) EmailsInThread(
	ctx context.Context,
	threadID string,
) ([]model.Email, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM emails WHERE thread_id = ? ORDER BY timestamp ASC",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}

// SetEmailRead updates the read-state flag of a single email.
func (s *SQLiteStore) SetEmailRead(
	ctx context.Context,
	id string,
	read bool,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE emails SET read = ? WHERE id = ?", boolToInt(read), id,
	)
	if err != nil {
		return fmt.Errorf("setting read state for email %s: %w", id, err)
	}
	return nil
}

// PendingClassification returns unclassified, non-failed emails with
// fewer than ceiling attempts, oldest first.
func (s *SQLiteStore) PendingClassification(
	ctx context.Context,
	ceiling, limit int,
) ([]model.Email, error) {
	query := `
		SELECT * FROM emails
		WHERE category = ? AND classify_failed = 0 AND classify_attempts < ?
		ORDER BY timestamp ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query,
		string(model.CategoryUnclassified), ceiling,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending classification: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}

// CompleteClassification writes category, labels, synced-at, and the
// optional extracted meeting in a single transaction, so a cancelled or
// failed write never leaves a half-classified email behind.
func (s *SQLiteStore) CompleteClassification(
	ctx context.Context,
	emailID string,
	category model.Category,
	labels []string,
	meeting *model.Meeting,
) error {
	labelsJSON, err := marshalStrings(labels)
	if err != nil {
		return fmt.Errorf("marshaling labels for email %s: %w", emailID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE emails
		SET category = ?, labels = ?, classify_failed = 0, synced_at = ?
		WHERE id = ?`,
		string(category), labelsJSON, time.Now().UTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("updating classification for email %s: %w", emailID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking classification update for email %s: %w", emailID, err)
	} else if n == 0 {
		return fmt.Errorf("classifying email %s: %w", emailID, sql.ErrNoRows)
	}

	if meeting != nil {
		if err := insertMeetingTx(ctx, tx, *meeting); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordClassificationFailure increments the attempt count and flips the
// permanent-failure flag when the ceiling is reached.
func (s *SQLiteStore) RecordClassificationFailure(
	ctx context.Context,
	emailID string,
	ceiling int,
) (int, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.GetContext(ctx, &attempts,
		"SELECT classify_attempts FROM emails WHERE id = ?", emailID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, fmt.Errorf("recording failure for email %s: not found", emailID)
		}
		return 0, false, fmt.Errorf("reading attempts for email %s: %w", emailID, err)
	}

	attempts++
	permanent := ceiling > 0 && attempts >= ceiling

	_, err = tx.ExecContext(ctx,
		"UPDATE emails SET classify_attempts = ?, classify_failed = ? WHERE id = ?",
		attempts, boolToInt(permanent), emailID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("recording failure for email %s: %w", emailID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing failure for email %s: %w", emailID, err)
	}

	return attempts, permanent, nil
}

// scanEmail scans an email row from a sqlx.Rows result set.
func scanEmail(rows *sqlx.Rows) (model.Email, error) {
	var (
		email      model.Email
		recipients string
		labels     string
		category   string
		provider   string
		failedInt  int
		readInt    int
		timestamp  time.Time
		syncedAt   time.Time
	)

	err := rows.Scan(
		&email.ID, &email.ThreadID, &email.Subject, &email.Sender,
		&recipients, &email.Content,
		&timestamp, &category, &email.ClassifyAttempts, &failedInt,
		&readInt, &labels, &provider, &syncedAt,
	)
	if err != nil {
		return model.Email{}, fmt.Errorf("scanning email row: %w", err)
	}

	email.Category = model.Category(category)
	email.Provider = model.ProviderType(provider)
	email.ClassifyFailed = failedInt != 0
	email.Read = readInt != 0
	email.Timestamp = timestamp
	email.SyncedAt = syncedAt

	if email.Recipients, err = unmarshalStrings(recipients); err != nil {
		return model.Email{}, err
	}
	if email.Labels, err = unmarshalStrings(labels); err != nil {
		return model.Email{}, err
	}

	return email, nil
}

// newID returns a fresh UUID string for internally generated records.
func newID() string {
	return uuid.New().String()
}
