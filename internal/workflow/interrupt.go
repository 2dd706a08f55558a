package workflow

import (
	"context"
	"time"
)

// InterruptChannel delivers an interrupt to a human and blocks for the reply.
type InterruptChannel interface {
	Raise(ctx context.Context, in Interrupt) (string, error)
}

// Event is a progress notification emitted after each transition.
type Event struct {
	ThreadID string    `json:"thread_id"`
	Node     Node      `json:"node"`
	Status   Status    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	Percent  float64   `json:"percent,omitempty"`
	At       time.Time `json:"at"`
}

// Observer receives progress events. It must not block for long.
type Observer func(ctx context.Context, ev Event)

// Searcher returns background findings. Implementations degrade to an empty
// slice instead of failing.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []Finding
}
