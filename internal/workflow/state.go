package workflow

import (
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
)

// Node names a position in the orchestrator graph.
type Node string

const (
	NodeCoordinator      Node = "coordinator"
	NodeBackgroundSearch Node = "background_search"
	NodePlanner          Node = "planner"
	NodeHumanFeedback    Node = "human_feedback"
	NodeResearchTeam     Node = "research_team"
	NodeResearcher       Node = "researcher"
	NodeProcessor        Node = "processor"
	NodeReporter         Node = "reporter"
	NodeEnd              Node = "end"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Finding is one background search hit.
type Finding struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// InterruptOption is an affordance offered to the human.
type InterruptOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Interrupt is a pending suspension waiting for an external reply.
type Interrupt struct {
	Name    string            `json:"name"`
	Prompt  string            `json:"prompt"`
	Options []InterruptOption `json:"options"`
}

// Report is the final deliverable attached to a thread.
type Report struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Path     string `json:"path,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Sections int    `json:"sections"`
	Batched  bool   `json:"batched"`
	Partial  bool   `json:"partial,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`

	// Cancelled means generation stopped on the thread's cancellation flag.
	Cancelled bool `json:"cancelled,omitempty"`
}

// State is the checkpointed state of one conversation thread. It is owned by
// the goroutine driving the thread and only mutated between transitions.
type State struct {
	ThreadID         string        `json:"thread_id"`
	Request          string        `json:"request"`
	Messages         []llm.Message `json:"messages"`
	Locale           string        `json:"locale"`
	Plan             *Plan         `json:"plan,omitempty"`
	StepCursor       int           `json:"step_cursor"`
	LoopGuard        int           `json:"loop_guard"`
	Observations     []string      `json:"observations"`
	PlanIterations   int           `json:"plan_iterations"`
	AutoAccepted     bool          `json:"auto_accepted"`
	BackgroundSearch bool          `json:"background_search"`
	Findings         []Finding     `json:"findings,omitempty"`
	Node             Node          `json:"node"`
	Status           Status        `json:"status"`
	Interrupt        *Interrupt    `json:"interrupt,omitempty"`
	Report           *Report       `json:"report,omitempty"`
	Transitions      int           `json:"transitions"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewState creates the initial state for a thread.
func NewState(threadID, request string) *State {
	now := time.Now().UTC()
	return &State{
		ThreadID:  threadID,
		Request:   request,
		Messages:  []llm.Message{llm.UserMessage(request)},
		Node:      NodeCoordinator,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastUserMessage returns the most recent user turn.
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleUser {
			return s.Messages[i].Content
		}
	}
	return s.Request
}

func (s *State) appendMessage(role, content string) {
	s.Messages = append(s.Messages, llm.Message{Role: role, Content: content})
}

// CurrentStep returns the step under the cursor, if any.
func (s *State) CurrentStep() (Step, bool) {
	if s.Plan == nil || s.StepCursor < 0 || s.StepCursor >= len(s.Plan.Steps) {
		return Step{}, false
	}
	return s.Plan.Steps[s.StepCursor], true
}
