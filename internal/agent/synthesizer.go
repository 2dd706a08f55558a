package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// Synthesizer writes the whole report in one model call.
type Synthesizer struct {
	model llm.Model
}

func NewSynthesizer(model llm.Model) *Synthesizer { return &Synthesizer{model: model} }

func (s *Synthesizer) Synthesize(ctx context.Context, in workflow.ReportInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\nREQUEST: %s\n", in.Title, in.Request)
	b.WriteString(localeLine(in.Locale))
	if in.Plan != nil {
		b.WriteString("\nPLAN STEPS:\n")
		for i, st := range in.Plan.Steps {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, st.Type, st.Title)
		}
	}
	b.WriteString("\nOBSERVATIONS:\n")
	for i, o := range in.Observations {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(o))
	}
	resp, err := s.model.Invoke(ctx, llm.Request{
		System:      synthesizerSystemPrompt,
		Messages:    []llm.Message{llm.UserMessage(b.String())},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
