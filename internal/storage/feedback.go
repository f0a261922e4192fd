package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertFeedback records user feedback for a message. A resubmission with the
// same message id updates the existing record instead of creating a second
// one. Returns true when a new record was created, false when updated.
func (s *Store) UpsertFeedback(ctx context.Context, rec FeedbackRecord) (bool, error) {
	now := formatTime(time.Now().UTC())

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (message_id, session_id, kind, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			kind = excluded.kind,
			comment = excluded.comment,
			updated_at = excluded.updated_at`,
		rec.MessageID, rec.SessionID, rec.Kind, rec.Comment, now, now,
	); err != nil {
		return false, fmt.Errorf("upserting feedback: %w", err)
	}
	// Which branch ran shows in the timestamps: the insert wrote both,
	// the update only moved updated_at.
	var createdAt, updatedAt string
	if err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM feedback WHERE message_id = ?`,
		rec.MessageID).Scan(&createdAt, &updatedAt); err != nil {
		return false, err
	}
	return createdAt == updatedAt, nil
}

// GetFeedback loads the feedback record for a message id.
func (s *Store) GetFeedback(ctx context.Context, messageID string) (FeedbackRecord, error) {
	var rec FeedbackRecord
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_id, session_id, kind, comment, created_at, updated_at
		FROM feedback WHERE message_id = ?`, messageID,
	).Scan(&rec.MessageID, &rec.SessionID, &rec.Kind, &rec.Comment, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return FeedbackRecord{}, ErrNotFound
	}
	if err != nil {
		return FeedbackRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return FeedbackRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return FeedbackRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

// CountFeedback returns the number of feedback rows; used by status output.
func (s *Store) CountFeedback(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}
