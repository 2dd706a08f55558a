package llm

import "context"

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// Request is the prompt context handed to a model.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Response carries the generated text plus any tool calls.
type Response struct {
	Content          string
	ToolCalls        []ToolCall
	PromptTokens     int64
	CompletionTokens int64
}

// HasToolCall reports whether the response requested the named tool.
func (r Response) HasToolCall(name string) (ToolCall, bool) {
	for _, tc := range r.ToolCalls {
		if tc.Name == name {
			return tc, true
		}
	}
	return ToolCall{}, false
}

// Model invokes a language model. Failures are returned as *Error so callers
// can tell a timeout from an empty completion.
type Model interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (Response, error)

func (f ModelFunc) Invoke(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// UserMessage is shorthand for a user turn.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }
