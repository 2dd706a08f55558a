package executor

import "context"

// CheckpointManager persists attempt progress so a restarted worker can see
// which step was in flight.
type CheckpointManager interface {
	SaveTaskStart(ctx context.Context, task Task, attempt int) error
	SaveTaskSuccess(ctx context.Context, task Task, attempt int) error
	SaveTaskFailure(ctx context.Context, task Task, attempt int, err error) error
}

// NoopCheckpointManager is a default implementation that records nothing.
type NoopCheckpointManager struct{}

// NewNoopCheckpointManager returns a checkpoint manager that does nothing.
func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) SaveTaskStart(ctx context.Context, task Task, attempt int) error {
	return nil
}
func (NoopCheckpointManager) SaveTaskSuccess(ctx context.Context, task Task, attempt int) error {
	return nil
}
func (NoopCheckpointManager) SaveTaskFailure(ctx context.Context, task Task, attempt int, err error) error {
	return nil
}
