package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/email-assistant/internal/model"
)

// SaveSyncCursor checkpoints the sync cursor. The table holds a single
// row; cursor advancement is serialized by the engine (single writer).
func (s *SQLiteStore) SaveSyncCursor(
	ctx context.Context,
	cursor model.SyncCursor,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_sync_at, batch_start, batch_end)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			batch_start = excluded.batch_start,
			batch_end = excluded.batch_end`,
		nullableTime(cursor.LastSyncAt),
		nullableTime(cursor.BatchStart),
		nullableTime(cursor.BatchEnd),
	)
	if err != nil {
		return fmt.Errorf("saving sync cursor: %w", err)
	}
	return nil
}

// LoadSyncCursor returns the checkpointed cursor, or nil when none has
// been saved yet.
func (s *SQLiteStore) LoadSyncCursor(
	ctx context.Context,
) (*model.SyncCursor, error) {
	var (
		lastSync   sql.NullTime
		batchStart sql.NullTime
		batchEnd   sql.NullTime
	)

	err := s.db.QueryRowxContext(ctx,
		"SELECT last_sync_at, batch_start, batch_end FROM sync_state WHERE id = 1",
	).Scan(&lastSync, &batchStart, &batchEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading sync cursor: %w", err)
	}

	cursor := &model.SyncCursor{}
	if lastSync.Valid {
		cursor.LastSyncAt = lastSync.Time
	}
	if batchStart.Valid {
		cursor.BatchStart = batchStart.Time
	}
	if batchEnd.Valid {
		cursor.BatchEnd = batchEnd.Time
	}

	return cursor, nil
}

// nullableTime maps the zero time to NULL for storage.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
