package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/session"
)

const sessionColumns = `id, namespace, user_id, channel, language, state,
	active_intent, active_handler, continuation, continuation_set,
	version, turn_count, created_at, last_active`

// GetSession loads a session by id. Returns ErrNotFound when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// CreateSession inserts a new session record. The id must be unique within
// the table; anonymous and authenticated ids cannot collide by construction.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Namespace, sess.UserID, sess.Channel, sess.Language, sess.State,
		sess.ActiveIntent, sess.ActiveHandler, nullableBlob(sess.Continuation), nullableTime(sess.ContinuationSet),
		sess.Version, sess.TurnCount, formatTime(sess.CreatedAt), formatTime(sess.LastActive),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// UpdateSessionCAS writes the session back guarded by its version: the update
// only applies if the stored version equals sess.Version, and bumps the
// version by one. Two racing writers fail one and succeed the other
// deterministically. On success sess.Version reflects the new value.
func (s *Store) UpdateSessionCAS(ctx context.Context, sess *session.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			language = ?, state = ?, active_intent = ?, active_handler = ?,
			continuation = ?, continuation_set = ?, turn_count = ?,
			last_active = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		sess.Language, sess.State, sess.ActiveIntent, sess.ActiveHandler,
		nullableBlob(sess.Continuation), nullableTime(sess.ContinuationSet), sess.TurnCount,
		formatTime(time.Now().UTC()), sess.ID, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a lost race from a missing record.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	sess.Version++
	return nil
}

// FindSessionByUser returns the most recently active session for a user and
// channel within a namespace, or ErrNotFound.
func (s *Store) FindSessionByUser(ctx context.Context, ns session.Namespace, userID, channel string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE namespace = ? AND user_id = ? AND channel = ?
		 ORDER BY last_active DESC LIMIT 1`, ns, userID, channel)
	return scanSession(row)
}

// ExpireSessions deletes sessions in a namespace whose last activity is older
// than the cutoff. Turns go with them via the cascade.
func (s *Store) ExpireSessions(ctx context.Context, ns session.Namespace, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE namespace = ? AND last_active < ?`,
		ns, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	return res.RowsAffected()
}

// ExpireSession deletes one session explicitly (user-initiated close).
func (s *Store) ExpireSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn inserts a completed turn. The (session_id, seq) uniqueness
// constraint rejects duplicate appends from a retried write.
func (s *Store) AppendTurn(ctx context.Context, t *session.Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, input, detected_lang, canonical_input,
			intent, confidence, handler, reply, error_kind, degraded,
			translate_ms, classify_ms, handler_ms, total_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Seq, t.Input, t.DetectedLang, t.CanonicalInput,
		t.Intent, t.Confidence, t.Handler, t.Reply, t.ErrorKind, boolToInt(t.DegradedTranslation),
		t.Timings.TranslateMs, t.Timings.ClassifyMs, t.Timings.HandlerMs, t.Timings.TotalMs,
		formatTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// TurnExists reports whether a turn id is on record.
func (s *Store) TurnExists(ctx context.Context, turnID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE id = ?`, turnID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTurns returns the turns of a session in append order, up to limit.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]session.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, input, detected_lang, canonical_input,
			intent, confidence, handler, reply, error_kind, degraded,
			translate_ms, classify_ms, handler_ms, total_ms, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []session.Turn
	for rows.Next() {
		var t session.Turn
		var createdAt string
		var degraded int
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Input, &t.DetectedLang, &t.CanonicalInput,
			&t.Intent, &t.Confidence, &t.Handler, &t.Reply, &t.ErrorKind, &degraded,
			&t.Timings.TranslateMs, &t.Timings.ClassifyMs, &t.Timings.HandlerMs, &t.Timings.TotalMs,
			&createdAt); err != nil {
			return nil, err
		}
		t.DegradedTranslation = degraded != 0
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %s: %w", t.ID, err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var continuation sql.NullString
	var continuationSet sql.NullString
	var createdAt, lastActive string

	err := row.Scan(&sess.ID, &sess.Namespace, &sess.UserID, &sess.Channel, &sess.Language, &sess.State,
		&sess.ActiveIntent, &sess.ActiveHandler, &continuation, &continuationSet,
		&sess.Version, &sess.TurnCount, &createdAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if continuation.Valid && continuation.String != "" {
		sess.Continuation = []byte(continuation.String)
	}
	if continuationSet.Valid && continuationSet.String != "" {
		if sess.ContinuationSet, err = parseTime(continuationSet.String); err != nil {
			return nil, fmt.Errorf("parsing continuation_set: %w", err)
		}
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastActive, err = parseTime(lastActive); err != nil {
		return nil, fmt.Errorf("parsing last_active: %w", err)
	}
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return strings.Contains(err.Error(), "constraint failed")
}
