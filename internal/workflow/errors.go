package workflow

import "errors"

var (
	// ErrNotSuspended is returned by Resume when the thread is not waiting for a reply.
	ErrNotSuspended = errors.New("thread is not suspended")
	// ErrThreadNotFound is returned when no checkpoint exists for a thread.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrCheckpoint wraps failures to persist state. These are fatal for the thread.
	ErrCheckpoint = errors.New("checkpoint write failed")
)
