package workflow

import (
	"io"
	"log"
)

// DispatchAction is the outcome of one dispatcher visit.
type DispatchAction string

const (
	ActionExecute  DispatchAction = "execute"
	ActionComplete DispatchAction = "complete"
	ActionReplan   DispatchAction = "replan"
)

// DispatchDecision tells the orchestrator where to go after a visit.
type DispatchDecision struct {
	Action    DispatchAction
	Next      Node
	Advanced  int
	GuardTrip bool
}

// Dispatcher walks the plan with the step cursor. Only the dispatcher moves
// the cursor, and only past steps that already carry a result.
type Dispatcher struct {
	maxLoopGuard int
	logger       *log.Logger
}

// NewDispatcher creates a dispatcher with the given loop guard bound.
func NewDispatcher(maxLoopGuard int, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if maxLoopGuard <= 0 {
		maxLoopGuard = DefaultSettings().MaxLoopGuard
	}
	return &Dispatcher{maxLoopGuard: maxLoopGuard, logger: logger}
}

// Visit performs one dispatcher pass over st.
func (d *Dispatcher) Visit(st *State) DispatchDecision {
	if st.Plan == nil || len(st.Plan.Steps) == 0 {
		return DispatchDecision{Action: ActionComplete, Next: NodeReporter}
	}
	if st.StepCursor < 0 {
		st.StepCursor = 0
	}
	advanced := 0
	for {
		if st.StepCursor >= len(st.Plan.Steps) {
			st.StepCursor = 0
			st.LoopGuard = 0
			return DispatchDecision{Action: ActionComplete, Next: NodeReporter, Advanced: advanced}
		}
		step := st.Plan.Steps[st.StepCursor]
		if step.Executed() {
			st.StepCursor++
			st.LoopGuard = 0
			advanced++
			continue
		}
		if advanced == 0 {
			st.LoopGuard++
		}
		if st.LoopGuard > d.maxLoopGuard {
			d.logger.Printf("warn: loop guard tripped at step %d (%s) after %d visits, completing", st.StepCursor, step.Title, st.LoopGuard-1)
			st.StepCursor = 0
			st.LoopGuard = 0
			return DispatchDecision{Action: ActionComplete, Next: NodeReporter, Advanced: advanced, GuardTrip: true}
		}
		switch step.Type {
		case StepResearch, StepAnalysis:
			return DispatchDecision{Action: ActionExecute, Next: NodeResearcher, Advanced: advanced}
		case StepProcessing:
			return DispatchDecision{Action: ActionExecute, Next: NodeProcessor, Advanced: advanced}
		default:
			d.logger.Printf("warn: unknown step type %q at step %d, returning to planner", step.Type, st.StepCursor)
			return DispatchDecision{Action: ActionReplan, Next: NodePlanner, Advanced: advanced}
		}
	}
}
