package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

const upsertCheckpointSQL = `
INSERT INTO workflow_checkpoints (thread_id, status, node, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
ON CONFLICT (thread_id) DO UPDATE SET
  status     = EXCLUDED.status,
  node       = EXCLUDED.node,
  state      = EXCLUDED.state,
  updated_at = NOW();
`

const readCheckpointSQL = `SELECT state FROM workflow_checkpoints WHERE thread_id = $1`

const listThreadsSQL = `SELECT thread_id FROM workflow_checkpoints WHERE status = ANY($1) ORDER BY updated_at ASC`

const listAllThreadsSQL = `SELECT thread_id FROM workflow_checkpoints ORDER BY updated_at ASC`

const requestCancelSQL = `
INSERT INTO workflow_cancellations (thread_id, requested_at)
VALUES ($1,NOW())
ON CONFLICT (thread_id) DO NOTHING;
`

const isCancelledSQL = `SELECT EXISTS (SELECT 1 FROM workflow_cancellations WHERE thread_id = $1)`

// WriteCheckpoint stores the full thread state. Status and node are kept in
// their own columns so recovery can query without decoding the state.
func (s *Store) WriteCheckpoint(ctx context.Context, st *workflow.State) error {
	if st == nil || st.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, upsertCheckpointSQL, st.ThreadID, string(st.Status), string(st.Node), b); err != nil {
		return err
	}
	recordWrite(ctx, "workflow_checkpoints")
	return nil
}

// ReadCheckpoint loads the latest state for a thread. The bool indicates whether a record was found.
func (s *Store) ReadCheckpoint(ctx context.Context, threadID string) (*workflow.State, bool, error) {
	var raw []byte
	if err := s.DB.QueryRowContext(ctx, readCheckpointSQL, threadID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var st workflow.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &st, true, nil
}

// ListThreads returns thread ids matching any of the provided statuses, oldest first.
// With no statuses every thread is returned.
func (s *Store) ListThreads(ctx context.Context, statuses ...workflow.Status) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.DB.QueryContext(ctx, listAllThreadsSQL)
	} else {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		rows, err = s.DB.QueryContext(ctx, listThreadsSQL, pq.Array(names))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) RequestCancel(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if _, err := s.DB.ExecContext(ctx, requestCancelSQL, threadID); err != nil {
		return err
	}
	recordWrite(ctx, "workflow_cancellations")
	return nil
}

func (s *Store) IsCancelled(ctx context.Context, threadID string) (bool, error) {
	var ok bool
	if err := s.DB.QueryRowContext(ctx, isCancelledSQL, threadID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

var _ workflow.Store = (*Store)(nil)
