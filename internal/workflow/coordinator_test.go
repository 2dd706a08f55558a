package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	responses []llm.Response
	errs      []error
	requests  []llm.Request
}

func (m *scriptedModel) Invoke(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := len(m.requests)
	m.requests = append(m.requests, req)
	var resp llm.Response
	var err error
	if i < len(m.responses) {
		resp = m.responses[i]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return resp, err
}

func TestIsTrivial(t *testing.T) {
	assert.True(t, IsTrivial("hello"))
	assert.True(t, IsTrivial("Hi there!"))
	assert.True(t, IsTrivial("who are you?"))
	assert.True(t, IsTrivial("你好"))
	assert.False(t, IsTrivial("Write a report on the 2024 EV market in Europe"))
	assert.False(t, IsTrivial("hello, please write a detailed report comparing battery chemistries used in 2024 EVs"))
}

func TestDetectLocale(t *testing.T) {
	assert.Equal(t, "zh-CN", DetectLocale("研究电动汽车市场"))
	assert.Equal(t, "en-US", DetectLocale("research the EV market"))
	assert.Equal(t, "en-US", DetectLocale("café prices"))
}

func TestCoordinatorTrivialBypassesModel(t *testing.T) {
	m := &scriptedModel{}
	d := NewCoordinator(m, false, nil).Classify(context.Background(), NewState("t", "hello"))
	assert.Equal(t, NodeEnd, d.Next)
	assert.NotEmpty(t, d.Reply)
	assert.False(t, d.Failed)
	assert.Empty(t, m.requests)
}

func TestCoordinatorHandoffUsesToolLocale(t *testing.T) {
	m := &scriptedModel{responses: []llm.Response{{ToolCalls: []llm.ToolCall{{
		Name: HandoffTool, Arguments: map[string]interface{}{"locale": "de-DE", "task_title": "EV"},
	}}}}}
	d := NewCoordinator(m, false, nil).Classify(context.Background(), NewState("t", "Write a report on the EV market"))
	assert.Equal(t, NodePlanner, d.Next)
	assert.Equal(t, "de-DE", d.Locale)
	require.Len(t, m.requests, 1)
	require.Len(t, m.requests[0].Tools, 1)
	assert.Equal(t, HandoffTool, m.requests[0].Tools[0].Name)
}

func TestCoordinatorRoutesToBackgroundSearch(t *testing.T) {
	m := &scriptedModel{responses: []llm.Response{{ToolCalls: []llm.ToolCall{{Name: HandoffTool}}}}}
	d := NewCoordinator(m, true, nil).Classify(context.Background(), NewState("t", "Write a report on the EV market"))
	assert.Equal(t, NodeBackgroundSearch, d.Next)
	assert.Equal(t, "en-US", d.Locale)
}

func TestCoordinatorNoToolCallEnds(t *testing.T) {
	m := &scriptedModel{responses: []llm.Response{{Content: "It is sunny today."}}}
	d := NewCoordinator(m, false, nil).Classify(context.Background(), NewState("t", "Tell me something nice about the weather in Berlin"))
	assert.Equal(t, NodeEnd, d.Next)
	assert.Equal(t, "It is sunny today.", d.Reply)
}

func TestCoordinatorRetriesWithoutTools(t *testing.T) {
	m := &scriptedModel{
		responses: []llm.Response{{}, {Content: "ok"}},
		errs:      []error{&llm.Error{Kind: llm.KindTimeout, Err: errors.New("slow")}, nil},
	}
	d := NewCoordinator(m, false, nil).Classify(context.Background(), NewState("t", "Write a report on the EV market"))
	require.Len(t, m.requests, 2)
	assert.Len(t, m.requests[0].Tools, 1)
	assert.Empty(t, m.requests[1].Tools)
	assert.Equal(t, NodePlanner, d.Next)
	assert.False(t, d.Failed)
}

func TestCoordinatorFailsAfterRetry(t *testing.T) {
	boom := &llm.Error{Kind: llm.KindTransport, Err: errors.New("down")}
	m := &scriptedModel{errs: []error{boom, boom}}
	d := NewCoordinator(m, false, nil).Classify(context.Background(), NewState("t", "Write a report on the EV market"))
	assert.Equal(t, NodeEnd, d.Next)
	assert.True(t, d.Failed)
	assert.Equal(t, coordinatorFailureMsg, d.Reply)
	assert.Len(t, m.requests, 2)
}
