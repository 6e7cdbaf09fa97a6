package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了 MockChatClient 的单次预期响应
type MockResponse struct {
	Content      string
	ToolCalls    []schema.ToolCall
	FinishReason string // 为空时：有工具调用为 tool_calls，否则为 stop
	Usage        *schema.TokenUsage
	Error        error
}

// MockCall 记录一次 Generate 调用
type MockCall struct {
	Messages   []*schema.Message
	Options    *model.Options
	BoundTools []*schema.ToolInfo
}

type mockState struct {
	mu        sync.Mutex
	responses []MockResponse
	index     int
	repeat    bool
	calls     []MockCall
}

// MockChatClient 是一个用于测试的 model.ToolCallingChatModel 的模拟实现
// WithTools 返回的副本与原实例共享响应脚本和调用记录
type MockChatClient struct {
	state *mockState
	tools []*schema.ToolInfo
}

// NewMockChatClient 创建一个总是返回同一响应的 MockChatClient
func NewMockChatClient(expectedResponse string, expectedError error) *MockChatClient {
	return &MockChatClient{state: &mockState{
		responses: []MockResponse{{Content: expectedResponse, Error: expectedError}},
		repeat:    true,
	}}
}

// NewMockChatClientSequential 创建一个按顺序返回不同响应的 MockChatClient
func NewMockChatClientSequential(responses []MockResponse) *MockChatClient {
	if len(responses) == 0 {
		responses = []MockResponse{{Error: errors.New("mock client has no responses configured")}}
	}
	return &MockChatClient{state: &mockState{responses: responses}}
}

// Generate 模拟 LLM 的 Generate 方法
func (m *MockChatClient) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := m.state
	s.mu.Lock()
	defer s.mu.Unlock()

	received := make([]*schema.Message, len(input))
	copy(received, input)
	s.calls = append(s.calls, MockCall{
		Messages:   received,
		Options:    model.GetCommonOptions(&model.Options{}, opts...),
		BoundTools: m.tools,
	})

	var resp MockResponse
	switch {
	case s.repeat:
		resp = s.responses[0]
	case s.index >= len(s.responses):
		return nil, errors.New("mock client has run out of sequential responses")
	default:
		resp = s.responses[s.index]
		s.index++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
		if len(resp.ToolCalls) > 0 {
			finish = "tool_calls"
		}
	}
	msg := schema.AssistantMessage(resp.Content, resp.ToolCalls)
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: finish, Usage: resp.Usage}
	return msg, nil
}

// Stream 模拟 LLM 的 Stream 方法
func (m *MockChatClient) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in MockChatClient")
}

// BindTools 原地绑定工具
func (m *MockChatClient) BindTools(tools []*schema.ToolInfo) error {
	m.tools = tools
	return nil
}

// WithTools 返回绑定了工具的副本
func (m *MockChatClient) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &MockChatClient{state: m.state, tools: tools}, nil
}

// Calls 返回所有调用记录
func (m *MockChatClient) Calls() []MockCall {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	out := make([]MockCall, len(m.state.calls))
	copy(out, m.state.calls)
	return out
}

// CallCount 已发生的 Generate 次数
func (m *MockChatClient) CallCount() int {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return len(m.state.calls)
}

// GetReceivedMessages 返回所有调用中累积的已接收消息
func (m *MockChatClient) GetReceivedMessages() []*schema.Message {
	var all []*schema.Message
	for _, c := range m.Calls() {
		all = append(all, c.Messages...)
	}
	return all
}

var _ model.ToolCallingChatModel = (*MockChatClient)(nil)
