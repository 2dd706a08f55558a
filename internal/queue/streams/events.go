package streams

import "time"

// Event types carried on the thread and progress streams.
const (
	EventThreadRequested = "thread.requested"
	EventThreadResumed   = "thread.resumed"
	EventThreadCancelled = "thread.cancelled"
	EventThreadProgress  = "thread.progress"
)

// ThreadRequested asks a worker to start a new thread.
type ThreadRequested struct {
	ThreadID         string `json:"thread_id"`
	Request          string `json:"request"`
	AutoAccept       bool   `json:"auto_accept"`
	BackgroundSearch bool   `json:"background_search"`
	Trigger          string `json:"trigger"` // api, schedule or cli
	Schedule         string `json:"schedule,omitempty"`
}

// ThreadResumed carries the human reply for a suspended thread.
type ThreadResumed struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply"`
}

// ThreadCancelled asks the owning worker to stop a thread.
type ThreadCancelled struct {
	ThreadID string `json:"thread_id"`
}

// ThreadProgress is published after every transition and batch item.
type ThreadProgress struct {
	ThreadID string    `json:"thread_id"`
	Node     string    `json:"node"`
	Status   string    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	Percent  float64   `json:"percent,omitempty"`
	At       time.Time `json:"at"`
}
