package workflow

import "strings"

// StepType tags how a step is executed.
type StepType string

const (
	StepResearch   StepType = "research"
	StepProcessing StepType = "processing"
	StepAnalysis   StepType = "analysis"
)

// ParseStepType normalises a model supplied type. Unrecognised values are kept
// verbatim so the dispatcher can route them back to the planner.
func ParseStepType(s string) StepType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "research", "researcher":
		return StepResearch
	case "processing", "process", "processor", "code":
		return StepProcessing
	case "analysis", "analyze", "analyse":
		return StepAnalysis
	default:
		return StepType(strings.TrimSpace(s))
	}
}

// Known reports whether t is one of the declared step types.
func (t StepType) Known() bool {
	switch t {
	case StepResearch, StepProcessing, StepAnalysis:
		return true
	default:
		return false
	}
}

// Step is one unit of work within a Plan.
type Step struct {
	Type                StepType `json:"type" yaml:"type"`
	Title               string   `json:"title" yaml:"title"`
	Description         string   `json:"description" yaml:"description"`
	NeedsExternalSearch bool     `json:"needs_external_search" yaml:"needs_external_search"`
	Result              *string  `json:"result,omitempty" yaml:"-"`
}

// Executed reports whether the step carries a non-blank result.
func (s Step) Executed() bool {
	return s.Result != nil && strings.TrimSpace(*s.Result) != ""
}

// Plan is the ordered list of steps for a request.
type Plan struct {
	Title            string `json:"title" yaml:"title"`
	Summary          string `json:"summary" yaml:"summary"`
	HasEnoughContext bool   `json:"has_enough_context" yaml:"has_enough_context"`
	Locale           string `json:"locale,omitempty" yaml:"-"`
	Steps            []Step `json:"steps" yaml:"steps"`
}

// Valid reports whether the plan can be executed at all.
func (p *Plan) Valid() bool {
	if p == nil || strings.TrimSpace(p.Title) == "" || len(p.Steps) == 0 {
		return false
	}
	for _, s := range p.Steps {
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Description) == "" {
			return false
		}
	}
	return true
}

// Executed counts steps with a result.
func (p *Plan) Executed() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.Steps {
		if s.Executed() {
			n++
		}
	}
	return n
}

// DefaultPlan is the minimal valid plan used when the planner output cannot be
// recovered.
func DefaultPlan(request string) Plan {
	desc := strings.TrimSpace(request)
	if desc == "" {
		desc = "Collect background information on the request."
	}
	return Plan{
		Title:            "Research report",
		Summary:          "Fallback plan: the planner response could not be parsed.",
		HasEnoughContext: true,
		Steps: []Step{{
			Type:                StepResearch,
			Title:               "Background research",
			Description:         desc,
			NeedsExternalSearch: true,
		}},
	}
}

func strPtr(s string) *string { return &s }
