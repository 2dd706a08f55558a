package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/executor"
	"github.com/mohammad-safakhou/reportflow/internal/llm"
)

// Route is where the planner sends the thread next.
type Route string

const (
	RouteApproval Route = "approval"
	RouteReporter Route = "reporter"
)

// "help" only counts as the whole message so research questions that use the
// word still get a plan.
var trivialPlannerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*help( me)?\s*[.!?]*\s*$`),
	regexp.MustCompile(`(?i)\b(who are you|what can you do)\b`),
	regexp.MustCompile(`^\s*帮助\s*[。！？!?]*\s*$`),
	regexp.MustCompile(`(你好|你是谁|你能做什么)`),
}

// Planner builds a Plan from the conversation and any background findings.
type Planner struct {
	model    llm.Model
	exec     *executor.Executor
	settings Settings
	logger   *log.Logger
}

// NewPlanner creates a planner. A nil logger discards output.
func NewPlanner(model llm.Model, exec *executor.Executor, settings Settings, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if exec == nil {
		exec = executor.New()
	}
	return &Planner{model: model, exec: exec, settings: settings.normalized(), logger: logger}
}

// PlanOutcome is the result of one planner visit.
type PlanOutcome struct {
	Plan  Plan
	Route Route
	// Fresh is false when no model call was made and Plan is the existing one.
	Fresh bool
	Stage ParseStage
}

// GeneratePlan returns the plan for the thread and where to go next. The
// returned plan is always valid: malformed output degrades to DefaultPlan.
// Once the iteration cap is reached, or for trivial requests, no model call
// is made and the thread is routed to the reporter.
func (p *Planner) GeneratePlan(ctx context.Context, st *State) (PlanOutcome, error) {
	if st.PlanIterations >= p.settings.MaxPlanIterations {
		p.logger.Printf("plan iterations %d reached limit %d, routing to reporter", st.PlanIterations, p.settings.MaxPlanIterations)
		return p.existing(st), nil
	}
	if isTrivialRequest(st.Request) {
		p.logger.Printf("trivial request, skipping planning")
		return p.existing(st), nil
	}

	raw, err := p.invoke(ctx, st)
	if err != nil {
		if ctx.Err() != nil || executorFatal(err) {
			return PlanOutcome{}, err
		}
		p.logger.Printf("warn: planner model failed, using default plan: %v", err)
		raw = ""
	}
	plan, stage, perr := ParsePlan(raw, st.Request)
	if perr != nil {
		p.logger.Printf("warn: plan parse (%s): %v", stage, perr)
	}
	out := PlanOutcome{Plan: plan, Route: RouteApproval, Fresh: true, Stage: stage}
	if !plan.HasEnoughContext {
		out.Route = RouteReporter
	}
	return out, nil
}

func (p *Planner) existing(st *State) PlanOutcome {
	if st.Plan != nil && st.Plan.Valid() {
		return PlanOutcome{Plan: *st.Plan, Route: RouteReporter, Stage: StageStrict}
	}
	return PlanOutcome{Plan: DefaultPlan(st.Request), Route: RouteReporter, Stage: StageFallback}
}

func (p *Planner) invoke(ctx context.Context, st *State) (string, error) {
	task := executor.Task{
		ID:         fmt.Sprintf("plan-%d", st.PlanIterations),
		ThreadID:   st.ThreadID,
		Stage:      fmt.Sprintf("planner:%d", st.PlanIterations),
		MaxRetries: p.settings.MaxStepRetries,
		RetryDelay: p.settings.RetryBackoff,
		Timeout:    p.settings.CallTimeout,
	}
	req := llm.Request{
		System:   plannerSystemPrompt(st.Locale),
		Messages: append(append([]llm.Message(nil), st.Messages...), llm.UserMessage(plannerContext(st))),
	}
	return p.exec.Run(ctx, task, func(ctx context.Context, attempt int) (string, error) {
		if p.model == nil {
			return "", executor.Permanent(errors.New("no planner model configured"))
		}
		resp, err := p.model.Invoke(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

func plannerSystemPrompt(locale string) string {
	return "You plan research reports. Reply with one JSON object with fields " +
		`locale, has_enough_context, thought, title, summary and steps ` +
		`(each step has step_type research|processing|analysis, title, description, need_search). ` +
		"Write in locale " + locale + "."
}

func plannerContext(st *State) string {
	var b strings.Builder
	if len(st.Findings) > 0 {
		b.WriteString("Background findings:\n")
		for i, f := range st.Findings {
			fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, f.Title, f.URL, f.Content)
		}
	}
	if len(st.Observations) > 0 {
		b.WriteString("Completed observations:\n")
		for i, o := range st.Observations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o)
		}
	}
	if b.Len() == 0 {
		b.WriteString("No prior findings.")
	}
	return b.String()
}

// isTrivialRequest matches short greetings and capability questions.
func isTrivialRequest(request string) bool {
	r := strings.TrimSpace(request)
	if len([]rune(r)) >= trivialMaxRunes {
		return false
	}
	for _, re := range trivialPlannerPatterns {
		if re.MatchString(r) {
			return true
		}
	}
	return false
}

func executorFatal(err error) bool {
	return errors.Is(err, executor.ErrCheckpoint)
}
