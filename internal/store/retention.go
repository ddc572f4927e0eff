package store

import (
	"context"
	"fmt"
	"time"
)

// RunRetention deletes audit entries older than auditAge and undone ledger
// entries older than deltaAge. Live deltas are never deleted.
func (s *Store) RunRetention(ctx context.Context, auditAge, deltaAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_log WHERE created_at < ?",
		now.Add(-auditAge).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	audits, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM deltas WHERE undone = 1 AND undone_at < ?",
		now.Add(-deltaAge).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete old deltas: %w", err)
	}
	deltas, _ := res.RowsAffected()

	s.logger.Info().
		Int64("audit_entries", audits).
		Int64("deltas", deltas).
		Msg("retention cleanup completed")
	return nil
}
