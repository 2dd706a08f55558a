package workflow

import (
	"context"
	"fmt"
	"strings"
)

// Fallback texts written when an executor exhausts its retries.
const (
	ResearchFallback   = "research unavailable for this step, proceeding with available findings"
	ProcessingFallback = "analysis degraded, manual review suggested"
)

// StepInput is the read-only view an executor gets of the thread.
type StepInput struct {
	ThreadID     string
	Request      string
	Locale       string
	PlanTitle    string
	StepIndex    int
	Step         Step
	Observations []string
	Findings     []Finding
}

// StepExecutor runs one plan step. It must not touch the step cursor.
type StepExecutor interface {
	Execute(ctx context.Context, in StepInput) (string, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, in StepInput) (string, error)

func (f StepExecutorFunc) Execute(ctx context.Context, in StepInput) (string, error) {
	return f(ctx, in)
}

// ReportInput is everything the reporter needs to assemble the deliverable.
type ReportInput struct {
	ThreadID     string
	Title        string
	Request      string
	Locale       string
	Plan         *Plan
	Observations []string
	// Cancelled is polled before each batch item.
	Cancelled func(ctx context.Context) bool
	// Progress receives batch progress percentages.
	Progress func(ctx context.Context, percent float64, detail string)
}

// Synthesizer produces a report in one model call.
type Synthesizer interface {
	Synthesize(ctx context.Context, in ReportInput) (string, error)
}

// BatchReporter produces a report through chunked generation. Errors are
// storage failures and are fatal for the thread.
type BatchReporter interface {
	GenerateReport(ctx context.Context, in ReportInput) (Report, error)
}

// FallbackReport concatenates the observations in step order.
func FallbackReport(in ReportInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Title)
	if len(in.Observations) == 0 {
		b.WriteString("No findings were produced for this request.\n")
		return b.String()
	}
	for i, o := range in.Observations {
		title := fmt.Sprintf("Finding %d", i+1)
		if in.Plan != nil {
			if t := observationTitle(in.Plan, i); t != "" {
				title = t
			}
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, strings.TrimSpace(o))
	}
	return b.String()
}

// observationTitle maps the i-th observation to the i-th executed step.
func observationTitle(p *Plan, i int) string {
	n := 0
	for _, s := range p.Steps {
		if !s.Executed() {
			continue
		}
		if n == i {
			return s.Title
		}
		n++
	}
	return ""
}

func (o *Orchestrator) reportInput(st *State) ReportInput {
	title := o.settings.ReportTitle
	if st.Plan != nil && strings.TrimSpace(st.Plan.Title) != "" {
		title = st.Plan.Title
	}
	threadID := st.ThreadID
	return ReportInput{
		ThreadID:     threadID,
		Title:        title,
		Request:      st.Request,
		Locale:       st.Locale,
		Plan:         st.Plan,
		Observations: append([]string(nil), st.Observations...),
		Cancelled: func(ctx context.Context) bool {
			c, err := o.store.IsCancelled(ctx, threadID)
			return err == nil && c
		},
		Progress: func(ctx context.Context, percent float64, detail string) {
			o.emit(ctx, Event{ThreadID: threadID, Node: NodeReporter, Status: StatusRunning, Percent: percent, Detail: detail})
		},
	}
}

// useBatch reports whether the plan is large enough for chunked generation.
func (o *Orchestrator) useBatch(st *State) bool {
	return o.batch != nil && st.Plan != nil && len(st.Plan.Steps) >= o.settings.BatchThreshold
}
