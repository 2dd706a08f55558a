package workflow

import (
	"context"
	"io"
	"log"
	"regexp"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
)

// HandoffTool is the tool the coordinator model calls to start the pipeline.
const HandoffTool = "handoff_to_planner"

const (
	trivialMaxRunes       = 50
	coordinatorFailureMsg = "unable to process the request right now"
	trivialReply          = "Hello! I turn research questions into structured reports. Tell me what you would like investigated."
)

var trivialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`(?i)\b(who are you|what can you do|what are you)\b`),
	regexp.MustCompile(`^\s*(你好|您好|嗨)`),
	regexp.MustCompile(`(你是谁|你能做什么)`),
}

// CoordinatorDecision is the classification of the latest user message.
type CoordinatorDecision struct {
	Next   Node
	Locale string
	Reply  string
	Failed bool
}

// Coordinator classifies requests as trivial or requiring the full pipeline.
type Coordinator struct {
	model            llm.Model
	backgroundSearch bool
	logger           *log.Logger
}

// NewCoordinator creates a coordinator. A nil logger discards output.
func NewCoordinator(model llm.Model, backgroundSearch bool, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{model: model, backgroundSearch: backgroundSearch, logger: logger}
}

func handoffTool() llm.Tool {
	return llm.Tool{
		Name:        HandoffTool,
		Description: "Hand the request over to the planner to build a research report.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task_title": map[string]interface{}{"type": "string"},
				"locale":     map[string]interface{}{"type": "string"},
			},
			"required": []string{"task_title", "locale"},
		},
	}
}

// Classify decides whether to end the thread, plan, or search first.
func (c *Coordinator) Classify(ctx context.Context, st *State) CoordinatorDecision {
	input := st.LastUserMessage()
	d := CoordinatorDecision{Locale: DetectLocale(input), Next: c.pipelineEntry(st)}
	if IsTrivial(input) {
		d.Next = NodeEnd
		d.Reply = trivialReply
		return d
	}
	if c.model == nil {
		return d
	}

	req := llm.Request{
		System:   "You are the front desk of a research assistant. Greet or answer small talk directly; hand anything needing research to the planner.",
		Messages: st.Messages,
		Tools:    []llm.Tool{handoffTool()},
	}
	resp, err := c.model.Invoke(ctx, req)
	if err != nil {
		c.logger.Printf("warn: coordinator call failed, retrying without tools: %v", err)
		req.Tools = nil
		resp, err = c.model.Invoke(ctx, req)
		if err != nil {
			c.logger.Printf("coordinator retry failed: %v", err)
			d.Next = NodeEnd
			d.Reply = coordinatorFailureMsg
			d.Failed = true
			return d
		}
		// without tools the model cannot hand off, so only the request itself decides
		return d
	}
	if call, ok := resp.HasToolCall(HandoffTool); ok {
		if loc, ok := call.Arguments["locale"].(string); ok && strings.TrimSpace(loc) != "" {
			d.Locale = loc
		}
		return d
	}
	d.Next = NodeEnd
	d.Reply = strings.TrimSpace(resp.Content)
	return d
}

func (c *Coordinator) pipelineEntry(st *State) Node {
	if c.backgroundSearch || st.BackgroundSearch {
		return NodeBackgroundSearch
	}
	return NodePlanner
}

// IsTrivial reports whether input is a short greeting or capability question.
func IsTrivial(input string) bool {
	s := strings.TrimSpace(input)
	if len([]rune(s)) >= trivialMaxRunes {
		return false
	}
	for _, re := range trivialPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// DetectLocale returns zh-CN when the input contains Han characters, otherwise en-US.
func DetectLocale(input string) string {
	for _, r := range input {
		if unicode.Is(unicode.Han, r) {
			return "zh-CN"
		}
	}
	return "en-US"
}
