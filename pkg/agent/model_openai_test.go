package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, handler func(req map[string]any) map[string]any) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func newTestChatModel(t *testing.T, url string) *OpenAIChatModel {
	t.Helper()
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = url + "/v1"
	m, err := NewOpenAIChatModel(ChatModelConfig{Model: "test-model", Client: openai.NewClientWithConfig(cfg)})
	require.NoError(t, err)
	return m
}

func searchToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "search_candidates",
		Desc: "search resumes",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query":       {Type: schema.String, Desc: "query", Required: true},
			"num_results": {Type: schema.Integer, Desc: "limit"},
		}),
	}
}

func TestOpenAIChatModelToolCall(t *testing.T) {
	srv, received := newChatServer(t, func(req map[string]any) map[string]any {
		return map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "test-model",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id": "call_1", "type": "function",
						"function": map[string]any{"name": "search_candidates", "arguments": `{"query":"python","level":"Senior"}`},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150},
		}
	})

	base := newTestChatModel(t, srv.URL)
	bound, err := base.WithTools([]*schema.ToolInfo{searchToolInfo()})
	require.NoError(t, err)

	msg, err := bound.Generate(context.Background(),
		[]*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("find python devs")},
		model.WithTemperature(0.1))
	require.NoError(t, err)

	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "search_candidates", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", FinishReason(msg))
	in, out := UsageOf(msg)
	assert.Equal(t, 120, in)
	assert.Equal(t, 30, out)

	require.Len(t, *received, 1)
	req := (*received)[0]
	assert.Equal(t, "test-model", req["model"])
	assert.InDelta(t, 0.1, req["temperature"], 1e-6)
	tools, ok := req["tools"].([]any)
	require.True(t, ok, "请求中应包含工具定义")
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "search_candidates", fn["name"])
	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params["properties"], "num_results")
}

func TestOpenAIChatModelWithToolsDoesNotMutateBase(t *testing.T) {
	srv, received := newChatServer(t, func(req map[string]any) map[string]any {
		return map[string]any{
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"overall_summary":"ok"}`},
				"finish_reason": "stop",
			}},
		}
	})

	base := newTestChatModel(t, srv.URL)
	_, err := base.WithTools([]*schema.ToolInfo{searchToolInfo()})
	require.NoError(t, err)

	toolCallID := "call_1"
	msg, err := base.Generate(context.Background(), []*schema.Message{
		schema.UserMessage("q"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: toolCallID, Function: schema.FunctionCall{Name: "search_candidates", Arguments: "{}"}}}),
		schema.ToolMessage(`{"status":"ok"}`, toolCallID),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"overall_summary":"ok"}`, msg.Content)
	assert.Equal(t, "stop", FinishReason(msg))

	req := (*received)[0]
	assert.NotContains(t, req, "tools", "未绑定工具的实例不应发送 tools")
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool", msgs[2].(map[string]any)["role"])
	assert.Equal(t, toolCallID, msgs[2].(map[string]any)["tool_call_id"])
}

func TestNewOpenAIChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel(ChatModelConfig{})
	assert.Error(t, err)
}

func TestMockChatClientSequential(t *testing.T) {
	mock := NewMockChatClientSequential([]MockResponse{
		{ToolCalls: []schema.ToolCall{{ID: "1", Function: schema.FunctionCall{Name: "search_candidates"}}}},
		{Content: "done"},
	})
	bound, err := mock.WithTools([]*schema.ToolInfo{searchToolInfo()})
	require.NoError(t, err)

	first, err := bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")}, model.WithTemperature(0.1))
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", FinishReason(first))

	second, err := mock.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	require.NoError(t, err)
	assert.Equal(t, "done", second.Content)

	_, err = mock.Generate(context.Background(), nil)
	assert.Error(t, err, "脚本用尽后应报错")

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].BoundTools, 1)
	assert.Empty(t, calls[1].BoundTools)
	require.NotNil(t, calls[0].Options.Temperature)
	assert.InDelta(t, 0.1, *calls[0].Options.Temperature, 1e-6)
}
