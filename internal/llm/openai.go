package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/mohammad-safakhou/reportflow/config"
)

// OpenAIProvider implements Model against any OpenAI compatible chat endpoint.
type OpenAIProvider struct {
	config config.LLMProvider
	models map[string]config.LLMModel
	client *http.Client
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	return &OpenAIProvider{
		config: cfg,
		models: cfg.Models,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// NewProvider builds the routed provider from the llm section.
func NewProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	p, err := cfg.ActiveProvider()
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case "", "openai":
		return NewOpenAIProvider(p), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
	}
}

// Bind returns a Model that always uses the named model key.
func (p *OpenAIProvider) Bind(model string) Model {
	return ModelFunc(func(ctx context.Context, req Request) (Response, error) {
		if req.Model == "" {
			req.Model = model
		}
		return p.Invoke(ctx, req)
	})
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatReq struct {
	Model       string     `json:"model"`
	Messages    []chatMsg  `json:"messages"`
	Tools       []chatTool `json:"tools,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke sends one chat completion request.
func (p *OpenAIProvider) Invoke(ctx context.Context, r Request) (Response, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return Response{}, &Error{Kind: KindConfig, Err: errors.New("OpenAI API key not configured")}
	}

	apiModel := r.Model
	temperature := r.Temperature
	maxTokens := r.MaxTokens
	if m, ok := p.models[r.Model]; ok {
		apiModel = m.APIName
		if apiModel == "" {
			apiModel = m.Name
		}
		if temperature == 0 {
			temperature = m.Temperature
		}
		if maxTokens == 0 {
			maxTokens = m.MaxTokens
		}
	}
	if apiModel == "" {
		return Response{}, &Error{Kind: KindConfig, Err: fmt.Errorf("model %q not configured", r.Model)}
	}

	msgs := make([]chatMsg, 0, len(r.Messages)+1)
	if strings.TrimSpace(r.System) != "" {
		msgs = append(msgs, chatMsg{Role: RoleSystem, Content: r.System})
	}
	for _, m := range r.Messages {
		msgs = append(msgs, chatMsg{Role: m.Role, Content: m.Content})
	}
	var tools []chatTool
	for _, t := range r.Tools {
		tools = append(tools, chatTool{Type: "function", Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    msgs,
		Tools:       tools,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Response{}, &Error{Kind: KindConfig, Err: fmt.Errorf("marshal: %w", err)}
	}

	baseURL := strings.TrimRight(p.config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return Response{}, &Error{Kind: KindConfig, Err: fmt.Errorf("request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Response{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &Error{Kind: KindRateLimited, Status: resp.StatusCode, Err: errors.New("rate limited")}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, &Error{Kind: KindStatus, Status: resp.StatusCode, Err: fmt.Errorf("openai: %s", strings.TrimSpace(string(snippet)))}
	}

	var out chatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &Error{Kind: KindDecode, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(out.Choices) == 0 {
		return Response{}, &Error{Kind: KindEmpty, Err: errors.New("no choices")}
	}

	msg := out.Choices[0].Message
	res := Response{
		Content:          msg.Content,
		PromptTokens:     int64(out.Usage.PromptTokens),
		CompletionTokens: int64(out.Usage.CompletionTokens),
	}
	for _, tc := range msg.ToolCalls {
		call := ToolCall{Name: tc.Function.Name, Arguments: map[string]interface{}{}}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			// malformed arguments still count as a call
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments)
		}
		res.ToolCalls = append(res.ToolCalls, call)
	}
	if strings.TrimSpace(res.Content) == "" && len(res.ToolCalls) == 0 {
		return Response{}, &Error{Kind: KindEmpty, Err: errors.New("empty completion")}
	}
	return res, nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}
