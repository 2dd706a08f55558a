package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planWith(steps ...Step) *Plan {
	return &Plan{Title: "T", HasEnoughContext: true, Steps: steps}
}

func done(s Step, result string) Step {
	s.Result = strPtr(result)
	return s
}

func TestDispatcherCompletesWithoutPlan(t *testing.T) {
	d := NewDispatcher(3, nil)
	st := &State{}
	assert.Equal(t, ActionComplete, d.Visit(st).Action)

	st.Plan = &Plan{Title: "empty"}
	dec := d.Visit(st)
	assert.Equal(t, ActionComplete, dec.Action)
	assert.Equal(t, NodeReporter, dec.Next)
}

func TestDispatcherIsIdempotentOnExecutedPlan(t *testing.T) {
	d := NewDispatcher(3, nil)
	st := &State{Plan: planWith(
		done(Step{Type: StepResearch, Title: "A"}, "a"),
		done(Step{Type: StepProcessing, Title: "B"}, "b"),
	), Observations: []string{"a", "b"}}

	for i := 0; i < 5; i++ {
		dec := d.Visit(st)
		require.Equal(t, ActionComplete, dec.Action)
		assert.Equal(t, NodeReporter, dec.Next)
		assert.Equal(t, 0, st.StepCursor)
		assert.Equal(t, 0, st.LoopGuard)
		assert.Equal(t, []string{"a", "b"}, st.Observations)
		assert.Equal(t, "a", *st.Plan.Steps[0].Result)
	}
}

func TestDispatcherRoutesByStepType(t *testing.T) {
	cases := []struct {
		typ  StepType
		next Node
		act  DispatchAction
	}{
		{StepResearch, NodeResearcher, ActionExecute},
		{StepAnalysis, NodeResearcher, ActionExecute},
		{StepProcessing, NodeProcessor, ActionExecute},
		{StepType("visualise"), NodePlanner, ActionReplan},
		{StepType(""), NodePlanner, ActionReplan},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			st := &State{Plan: planWith(Step{Type: tc.typ, Title: "x"})}
			dec := NewDispatcher(3, nil).Visit(st)
			assert.Equal(t, tc.act, dec.Action)
			assert.Equal(t, tc.next, dec.Next)
			assert.Equal(t, 0, st.StepCursor)
		})
	}
}

func TestDispatcherSkipsExecutedStepsAndResetsGuard(t *testing.T) {
	st := &State{
		Plan: planWith(
			done(Step{Type: StepResearch, Title: "A"}, "a"),
			done(Step{Type: StepResearch, Title: "B"}, "b"),
			Step{Type: StepProcessing, Title: "C"},
		),
		LoopGuard: 2,
	}
	dec := NewDispatcher(3, nil).Visit(st)
	assert.Equal(t, NodeProcessor, dec.Next)
	assert.Equal(t, 2, dec.Advanced)
	assert.Equal(t, 2, st.StepCursor)
	assert.Equal(t, 0, st.LoopGuard)
}

func TestDispatcherTreatsBlankResultAsPending(t *testing.T) {
	st := &State{Plan: planWith(done(Step{Type: StepResearch, Title: "A"}, "   "))}
	dec := NewDispatcher(3, nil).Visit(st)
	assert.Equal(t, NodeResearcher, dec.Next)
	assert.Equal(t, 1, st.LoopGuard)
}

func TestDispatcherLoopGuardTerminates(t *testing.T) {
	const bound = 3
	d := NewDispatcher(bound, nil)
	st := &State{Plan: planWith(Step{Type: StepResearch, Title: "stuck"})}

	executions := 0
	for visit := 0; visit < 100; visit++ {
		dec := d.Visit(st)
		if dec.Action == ActionComplete {
			assert.True(t, dec.GuardTrip)
			assert.Equal(t, NodeReporter, dec.Next)
			break
		}
		// executor always returns a blank result
		executions++
		st.Plan.Steps[st.StepCursor].Result = strPtr("")
	}
	assert.Equal(t, bound, executions)
	assert.Equal(t, 0, st.StepCursor)
	assert.Equal(t, 0, st.LoopGuard)
}

func TestDispatcherNormalisesStaleCursor(t *testing.T) {
	st := &State{Plan: planWith(Step{Type: StepResearch, Title: "A"}), StepCursor: 7}
	dec := NewDispatcher(3, nil).Visit(st)
	assert.Equal(t, ActionComplete, dec.Action)
	assert.Equal(t, 0, st.StepCursor)

	st.StepCursor = -4
	dec = NewDispatcher(3, nil).Visit(st)
	assert.Equal(t, NodeResearcher, dec.Next)
	assert.Equal(t, 0, st.StepCursor)
}
