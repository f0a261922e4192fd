package storage

import (
	"context"
	"fmt"
	"time"
)

// InsertTelemetry writes one per-turn outcome row.
func (s *Store) InsertTelemetry(ctx context.Context, row TelemetryRow) error {
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (turn_id, session_id, intent, handler, outcome, total_ms, stages_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TurnID, row.SessionID, row.Intent, row.Handler, row.Outcome,
		row.TotalMs, row.StagesJSON, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

// CountTelemetry returns the number of telemetry rows; used by status output.
func (s *Store) CountTelemetry(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry`).Scan(&n)
	return n, err
}
