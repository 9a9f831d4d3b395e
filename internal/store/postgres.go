package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meetingbot-platform/pkg/utils"
)

// PostgresStore persists call history in the call_history table.
//
// Schema:
//
//	CREATE TABLE call_history (
//	    call_id          TEXT PRIMARY KEY,
//	    meeting_id       TEXT NOT NULL,
//	    tenant_id        TEXT NOT NULL DEFAULT '',
//	    join_mode        TEXT NOT NULL,
//	    outcome          TEXT NOT NULL,
//	    abandoned_events INT  NOT NULL DEFAULT 0,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    ended_at         TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RecordJoin(ctx context.Context, rec CallRecord) error {
	const q = `
		INSERT INTO call_history (call_id, meeting_id, tenant_id, join_mode, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		rec.CallID, rec.MeetingID, rec.TenantID, string(rec.Mode), rec.Outcome, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record join: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordTermination(ctx context.Context, callID string, endedAt time.Time, abandonedEvents int) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
			UPDATE call_history
			SET outcome = $2, ended_at = $3, abandoned_events = $4
			WHERE call_id = $1`
		if _, err := tx.ExecContext(ctx, q, callID, OutcomeTerminated, endedAt, abandonedEvents); err != nil {
			return fmt.Errorf("record termination: %w", err)
		}
		return nil
	})
}
