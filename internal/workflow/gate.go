package workflow

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"gopkg.in/yaml.v3"
)

// InterruptName identifies the plan approval interrupt.
const InterruptName = "human_feedback"

// GateOutcome is the result of reviewing or answering the approval gate.
type GateOutcome int

const (
	GateSuspended GateOutcome = iota
	GateApproved
	GateEditRequested
)

func (g GateOutcome) String() string {
	switch g {
	case GateApproved:
		return "approved"
	case GateEditRequested:
		return "edit_requested"
	default:
		return "suspended"
	}
}

var (
	acceptPatterns = []string{"[accepted]", "accepted", "接受", "开始研究", "好的", "确认", "很棒"}
	editPatterns   = []string{"[edit_plan]", "edit_plan", "修改", "编辑"}
)

// Gate suspends the pipeline until a human approves or edits the plan.
type Gate struct {
	logger *log.Logger
}

// NewGate creates a gate. A nil logger discards output.
func NewGate(logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Gate{logger: logger}
}

// Review is the first visit: auto accepted threads pass, others suspend.
func (g *Gate) Review(st *State) (GateOutcome, *Interrupt) {
	if st.AutoAccepted {
		return GateApproved, nil
	}
	return GateSuspended, g.interrupt(st)
}

// Apply interprets an external reply. Unrecognised replies leave the state
// untouched and return the same interrupt again.
func (g *Gate) Apply(st *State, reply string) (GateOutcome, *Interrupt) {
	switch classifyReply(reply) {
	case GateApproved:
		g.logger.Printf("thread %s plan accepted", st.ThreadID)
		return GateApproved, nil
	case GateEditRequested:
		g.logger.Printf("thread %s plan edit requested", st.ThreadID)
		st.appendMessage(llm.RoleUser, editFeedback(reply))
		return GateEditRequested, nil
	default:
		g.logger.Printf("thread %s reply not recognised, re-raising", st.ThreadID)
		if st.Interrupt != nil {
			return GateSuspended, st.Interrupt
		}
		return GateSuspended, g.interrupt(st)
	}
}

func classifyReply(reply string) GateOutcome {
	r := strings.ToLower(strings.TrimSpace(reply))
	if r == "" {
		return GateSuspended
	}
	// edit is checked first so "[EDIT_PLAN] accepted except ..." is an edit
	for _, p := range editPatterns {
		if strings.Contains(r, p) {
			return GateEditRequested
		}
	}
	for _, p := range acceptPatterns {
		if strings.Contains(r, p) {
			return GateApproved
		}
	}
	return GateSuspended
}

func editFeedback(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(strings.ToLower(s), "[edit_plan]") {
		s = strings.TrimSpace(s[len("[edit_plan]"):])
	}
	if s == "" {
		s = "Please revise the plan."
	}
	return "Plan feedback: " + s
}

func (g *Gate) interrupt(st *State) *Interrupt {
	return &Interrupt{
		Name:   InterruptName,
		Prompt: "Please review the plan.\n\n" + RenderPlan(st.Plan),
		Options: []InterruptOption{
			{Label: "Edit plan", Value: "edit_plan"},
			{Label: "Start research", Value: "accepted"},
		},
	}
}

// RenderPlan renders a plan as YAML for human review.
func RenderPlan(p *Plan) string {
	if p == nil {
		return "(no plan)"
	}
	out, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%s\n%d steps", p.Title, len(p.Steps))
	}
	return string(out)
}
