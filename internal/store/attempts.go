package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/executor"
)

const upsertAttemptSQL = `
INSERT INTO step_attempts (thread_id, stage, status, attempt, payload, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (thread_id, stage) DO UPDATE SET
  status     = EXCLUDED.status,
  attempt    = EXCLUDED.attempt,
  payload    = EXCLUDED.payload,
  updated_at = NOW();
`

const getAttemptSQL = `
SELECT thread_id, stage, status, attempt, payload, updated_at
FROM step_attempts
WHERE thread_id = $1 AND stage = $2`

// AttemptRecord is a stored step attempt with its last update time.
type AttemptRecord struct {
	executor.Attempt
	UpdatedAt time.Time
}

// UpsertStepAttempt records the latest attempt for a (thread, stage) pair.
func (s *Store) UpsertStepAttempt(ctx context.Context, a executor.Attempt) error {
	if a.ThreadID == "" || a.Stage == "" {
		return fmt.Errorf("thread_id and stage are required")
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal attempt payload: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, upsertAttemptSQL, a.ThreadID, a.Stage, a.Status, a.Attempt, payload); err != nil {
		return err
	}
	recordWrite(ctx, "step_attempts")
	return nil
}

// GetStepAttempt retrieves the attempt for a thread/stage. The bool indicates whether a record was found.
func (s *Store) GetStepAttempt(ctx context.Context, threadID, stage string) (AttemptRecord, bool, error) {
	var (
		rec     AttemptRecord
		payload []byte
	)
	err := s.DB.QueryRowContext(ctx, getAttemptSQL, threadID, stage).
		Scan(&rec.ThreadID, &rec.Stage, &rec.Status, &rec.Attempt, &payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AttemptRecord{}, false, nil
	}
	if err != nil {
		return AttemptRecord{}, false, err
	}
	if len(payload) > 0 {
		var m map[string]interface{}
		_ = json.Unmarshal(payload, &m)
		rec.Payload = m
	}
	return rec, true, nil
}

var _ executor.AttemptStore = (*Store)(nil)
