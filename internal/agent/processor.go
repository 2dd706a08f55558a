package agent

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// Processor runs processing steps over the observations collected so far.
type Processor struct {
	model llm.Model
}

func NewProcessor(model llm.Model) *Processor { return &Processor{model: model} }

func (p *Processor) Execute(ctx context.Context, in workflow.StepInput) (string, error) {
	resp, err := p.model.Invoke(ctx, llm.Request{
		System:      processorSystemPrompt,
		Messages:    []llm.Message{llm.UserMessage(stepPrompt(in, nil, nil))},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
