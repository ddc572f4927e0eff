package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/portfolio-agent/internal/delta"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
)

// SaveDelta inserts a ledger entry.
func (s *Store) SaveDelta(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(e.Delta)
	if err != nil {
		return fmt.Errorf("failed to encode delta: %w", err)
	}
	var undoneAt sql.NullInt64
	if e.UndoneAt != nil {
		undoneAt = sql.NullInt64{Int64: e.UndoneAt.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO deltas (turn_id, action_index, payload, undone, recorded_at, undone_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.TurnID, e.Index, string(payload), boolInt(e.Undone), e.RecordedAt.UnixMilli(), undoneAt)
	if err != nil {
		return fmt.Errorf("failed to save delta: %w", err)
	}
	return nil
}

// MarkUndone flags a ledger entry as undone.
func (s *Store) MarkUndone(ctx context.Context, turnID string, index int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE deltas SET undone = 1, undone_at = ? WHERE turn_id = ? AND action_index = ?`,
		at.UnixMilli(), turnID, index)
	if err != nil {
		return fmt.Errorf("failed to mark delta undone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delta %s#%d not found", turnID, index)
	}
	return nil
}

// LoadDeltas returns every ledger entry in recording order.
func (s *Store) LoadDeltas(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT turn_id, action_index, payload, undone, recorded_at, undone_at
	FROM deltas ORDER BY recorded_at, turn_id, action_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deltas: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var payload string
		var undone int
		var recordedAt int64
		var undoneAt sql.NullInt64
		if err := rows.Scan(&e.TurnID, &e.Index, &payload, &undone, &recordedAt, &undoneAt); err != nil {
			return nil, fmt.Errorf("failed to scan delta: %w", err)
		}
		var d delta.Delta
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, fmt.Errorf("failed to decode delta %s#%d: %w", e.TurnID, e.Index, err)
		}
		e.Delta = d
		e.Undone = undone != 0
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		if undoneAt.Valid {
			t := time.UnixMilli(undoneAt.Int64).UTC()
			e.UndoneAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearDeltas deletes the whole ledger.
func (s *Store) ClearDeltas(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deltas`); err != nil {
		return fmt.Errorf("failed to clear deltas: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
