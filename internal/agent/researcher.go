package agent

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/mohammad-safakhou/reportflow/internal/search"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// Researcher gathers information for research and analysis steps.
type Researcher struct {
	model       llm.Model
	search      *search.Provider
	maxResults  int
	maxFindings int
	logger      *log.Logger
}

// ResearcherOption configures a Researcher.
type ResearcherOption func(*Researcher)

// WithSearch enables live search for steps that ask for it.
func WithSearch(p *search.Provider, maxResults int) ResearcherOption {
	return func(r *Researcher) { r.search, r.maxResults = p, maxResults }
}

// WithMaxFindings bounds how many background findings are replayed per step.
func WithMaxFindings(n int) ResearcherOption { return func(r *Researcher) { r.maxFindings = n } }

// WithResearcherLogger sets the logger for degraded search and model calls.
func WithResearcherLogger(l *log.Logger) ResearcherOption {
	return func(r *Researcher) { r.logger = l }
}

// NewResearcher builds a researcher answering steps with model.
func NewResearcher(model llm.Model, opts ...ResearcherOption) *Researcher {
	r := &Researcher{model: model, maxResults: 5, maxFindings: 3}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard, "", 0)
	}
	return r
}

// Execute runs one step. Errors are model failures; the caller retries and
// substitutes fallback text.
func (r *Researcher) Execute(ctx context.Context, in workflow.StepInput) (string, error) {
	query := strings.TrimSpace(in.Step.Title + " " + in.Step.Description)
	findings := r.rankFindings(in.Findings, query)

	var fresh []search.Result
	if in.Step.NeedsExternalSearch && r.search != nil {
		fresh = r.search.Search(ctx, query, r.maxResults)
	}
	r.logger.Printf("step %d %q findings=%d search=%d", in.StepIndex, in.Step.Title, len(findings), len(fresh))

	resp, err := r.model.Invoke(ctx, llm.Request{
		System:      researcherSystemPrompt,
		Messages:    []llm.Message{llm.UserMessage(stepPrompt(in, findings, fresh))},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content) + references(append(findings, fresh...)), nil
}

// rankFindings orders background findings by relevance to the step.
func (r *Researcher) rankFindings(findings []workflow.Finding, query string) []search.Result {
	if len(findings) == 0 || r.maxFindings <= 0 {
		return nil
	}
	results := FindingsToResults(findings)
	idx, err := search.NewIndex()
	if err != nil {
		r.logger.Printf("warn: findings index: %v", err)
		return head(results, r.maxFindings)
	}
	defer idx.Close()
	if err := idx.Add(results...); err != nil {
		r.logger.Printf("warn: index findings: %v", err)
		return head(results, r.maxFindings)
	}
	ranked, err := idx.Rank(query, r.maxFindings)
	if err != nil {
		r.logger.Printf("warn: rank findings: %v", err)
		return head(results, r.maxFindings)
	}
	return ranked
}

func head(rs []search.Result, n int) []search.Result {
	if len(rs) > n {
		return rs[:n]
	}
	return rs
}
