package executor

import "context"

// Attempt statuses recorded per (thread, stage).
const (
	AttemptDispatched = "dispatched"
	AttemptCompleted  = "completed"
	AttemptFailed     = "failed"
)

// Attempt is the durable record of the latest attempt for one stage.
type Attempt struct {
	ThreadID string
	Stage    string
	Status   string
	Attempt  int
	Payload  map[string]interface{}
}

// AttemptStore is satisfied by store.Store.
type AttemptStore interface {
	UpsertStepAttempt(ctx context.Context, a Attempt) error
}

// StoreCheckpointManager persists attempts through an AttemptStore.
type StoreCheckpointManager struct {
	store AttemptStore
}

// NewStoreCheckpointManager constructs a CheckpointManager backed by st.
func NewStoreCheckpointManager(st AttemptStore) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st}
}

func (m *StoreCheckpointManager) SaveTaskStart(ctx context.Context, task Task, attempt int) error {
	return m.save(ctx, task, AttemptDispatched, attempt, nil)
}

func (m *StoreCheckpointManager) SaveTaskSuccess(ctx context.Context, task Task, attempt int) error {
	return m.save(ctx, task, AttemptCompleted, attempt, nil)
}

func (m *StoreCheckpointManager) SaveTaskFailure(ctx context.Context, task Task, attempt int, err error) error {
	return m.save(ctx, task, AttemptFailed, attempt, err)
}

func (m *StoreCheckpointManager) save(ctx context.Context, task Task, status string, attempt int, cause error) error {
	if m.store == nil || task.ThreadID == "" {
		return nil
	}
	stage := task.Stage
	if stage == "" {
		stage = task.ID
	}
	payload := map[string]interface{}{"task_id": task.ID}
	if len(task.Payload) > 0 {
		payload["payload"] = task.Payload
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	return m.store.UpsertStepAttempt(ctx, Attempt{
		ThreadID: task.ThreadID,
		Stage:    stage,
		Status:   status,
		Attempt:  attempt,
		Payload:  payload,
	})
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)
