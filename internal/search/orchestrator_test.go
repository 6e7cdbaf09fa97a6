package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/types"
	"talent-search/pkg/agent"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func primaryTool(store Retriever, emb QueryEmbedder, limit int) *RetrievalTool {
	return NewRetrievalTool(store, emb, []Scope{PrimaryScope()}, WithResultCap(limit))
}

func TestOrchestrator_EndToEndFixtures(t *testing.T) {
	store := fixtureStore()
	emb := &fakeEmbedder{}
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("call_1", ToolName,
			`{"query":"Senior backend engineer with Python and AWS","level":"Senior"}`)}, Usage: usage(120, 30)},
		{Content: aliceAnalysis, Usage: usage(400, 90)},
	})

	o := NewOrchestrator(mock)
	out, err := o.Run(context.Background(), "Senior backend engineer with Python and AWS", 7, primaryTool(store, emb, 7))
	require.NoError(t, err)

	require.Len(t, out.Result.Candidates, 1)
	assert.Equal(t, "Alice Anderson", out.Result.Candidates[0].Name)
	assert.Equal(t, string(StateParsed), out.FinalState)
	assert.Equal(t, types.TokenUsage{InputTokens: 520, OutputTokens: 120}, out.Usage)

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Senior", calls[0].Filter.Level)
	assert.Equal(t, 5, calls[0].K, "模型未指定 num_results 时使用默认值")
	assert.Equal(t, 1, emb.Calls())

	// 第二轮：未绑定工具，温度 0.5，消息包含 tool 结果且只有 dev-001
	mc := mock.Calls()
	require.Len(t, mc, 2)
	assert.Len(t, mc[0].BoundTools, 1)
	assert.Equal(t, ToolName, mc[0].BoundTools[0].Name)
	require.NotNil(t, mc[0].Options.Temperature)
	assert.InDelta(t, 0.1, *mc[0].Options.Temperature, 1e-6)
	assert.Empty(t, mc[1].BoundTools)
	require.NotNil(t, mc[1].Options.Temperature)
	assert.InDelta(t, 0.5, *mc[1].Options.Temperature, 1e-6)

	var toolMsg *schema.Message
	for _, m := range mc[1].Messages {
		if m.Role == schema.Tool {
			toolMsg = m
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"id":"dev-001"`)
	assert.NotContains(t, toolMsg.Content, "dev-002")
	assert.NotContains(t, toolMsg.Content, "dev-003")
}

func TestOrchestrator_ClampsNumResults(t *testing.T) {
	store := fixtureStore()
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"engineer","num_results":12}`)}},
		{Content: aliceAnalysis},
	})

	_, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 5, primaryTool(store, &fakeEmbedder{}, 5))
	require.NoError(t, err)

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0].K)
}

func TestOrchestrator_EmptyResultShortCircuits(t *testing.T) {
	store := fixtureStore()
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"chef","level":"VP","industry":"Automotive"}`)}, Usage: usage(50, 10)},
	})

	out, err := NewOrchestrator(mock).Run(context.Background(), "VP chef in automotive", 7, primaryTool(store, &fakeEmbedder{}, 7))
	require.NoError(t, err)

	assert.Equal(t, 1, mock.CallCount())
	assert.NotNil(t, out.Result.Candidates)
	assert.Empty(t, out.Result.Candidates)
	assert.Equal(t, noCandidatesSummary, out.Result.OverallSummary)
	assert.Equal(t, string(StateParsed), out.FinalState)
	assert.Equal(t, types.TokenUsage{InputTokens: 50, OutputTokens: 10}, out.Usage)
}

func TestOrchestrator_DirectAnswer(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Content: "I can only help with candidate searches.", FinishReason: "stop"},
	})
	store := fixtureStore()

	out, err := NewOrchestrator(mock).Run(context.Background(), "what's the weather", 7, primaryTool(store, &fakeEmbedder{}, 7))
	require.NoError(t, err)
	assert.Equal(t, string(StateDirectAnswered), out.FinalState)
	assert.Equal(t, "I can only help with candidate searches.", out.Result.OverallSummary)
	assert.Equal(t, directAnswerRecommendation, out.Result.OverallRecommendation)
	assert.Empty(t, out.Result.Candidates)
	assert.Empty(t, store.Calls())
}

func TestOrchestrator_UnexpectedStop(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Content: "Alice is a gr", FinishReason: "length"},
	})

	out, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnexpectedModelStop))
	assert.Equal(t, "Alice is a gr", apperr.RawOutputOf(err))
	assert.Equal(t, string(StateFailed), out.FinalState)
}

func TestOrchestrator_UnsupportedTool(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", "get_weather", `{"city":"Paris"}`)}},
	})
	store := fixtureStore()

	_, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(store, &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupportedTool, apperr.KindOf(err))
	assert.Empty(t, store.Calls())
}

func TestOrchestrator_InvalidToolInputFailsRequest(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"num_results":"five"}`)}},
	})
	emb := &fakeEmbedder{}

	_, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), emb, 7))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidToolInput, apperr.KindOf(err))
	assert.Equal(t, 0, emb.Calls())
	assert.Equal(t, 1, mock.CallCount())
}

func TestOrchestrator_ExtraToolCallsIgnored(t *testing.T) {
	store := fixtureStore()
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{
			toolCall("c1", ToolName, `{"query":"engineer","level":"Senior"}`),
			toolCall("c2", ToolName, `{"query":"designer"}`),
		}},
		{Content: aliceAnalysis},
	})

	_, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(store, &fakeEmbedder{}, 7))
	require.NoError(t, err)
	assert.Len(t, store.Calls(), 1)

	msgs := mock.Calls()[1].Messages
	var toolIDs []string
	for _, m := range msgs {
		if m.Role == schema.Tool {
			toolIDs = append(toolIDs, m.ToolCallID)
			if m.ToolCallID == "c2" {
				assert.Contains(t, m.Content, "ignored")
			}
		}
	}
	assert.Equal(t, []string{"c1", "c2"}, toolIDs)
}

func TestOrchestrator_ToolCallInSecondResponse(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"engineer"}`)}},
		{ToolCalls: []schema.ToolCall{toolCall("c2", ToolName, `{"query":"more"}`)}},
	})

	out, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnexpectedModelStop, apperr.KindOf(err))
	assert.Equal(t, string(StateFailed), out.FinalState)
}

func TestOrchestrator_MalformedFinalJSON(t *testing.T) {
	raw := "```json\n{\"overall_summary\": \"ok\", \"candidates\": [\n```"
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"engineer"}`)}, Usage: usage(10, 5)},
		{Content: raw, Usage: usage(20, 7)},
	})

	out, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMalformedAnalysisJSON))
	assert.Equal(t, raw, apperr.RawOutputOf(err))
	assert.Equal(t, types.TokenUsage{InputTokens: 30, OutputTokens: 12}, out.Usage)
}

func TestOrchestrator_ModelUnavailable(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("connection refused")},
	})

	_, err := NewOrchestrator(mock).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.Equal(t, apperr.KindModelUnavailable, apperr.KindOf(err))
}

func TestOrchestrator_StoreAndEmbeddingErrors(t *testing.T) {
	script := func() *agent.MockChatClient {
		return agent.NewMockChatClientSequential([]agent.MockResponse{
			{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"engineer"}`)}},
		})
	}

	store := fixtureStore()
	store.err = apperr.New(apperr.KindStoreUnavailable, "qdrant_search", "down")
	_, err := NewOrchestrator(script()).Run(context.Background(), "engineer", 7, primaryTool(store, &fakeEmbedder{}, 7))
	assert.Equal(t, apperr.KindStoreUnavailable, apperr.KindOf(err))

	emb := &fakeEmbedder{err: errors.New("429")}
	_, err = NewOrchestrator(script()).Run(context.Background(), "engineer", 7, primaryTool(fixtureStore(), emb, 7))
	assert.Equal(t, apperr.KindEmbedding, apperr.KindOf(err))
}

func TestOrchestrator_TimeoutIsModelUnavailable(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{{Content: "late"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOrchestrator(mock, WithModelTimeout(time.Millisecond)).
		Run(ctx, "engineer", 7, primaryTool(fixtureStore(), &fakeEmbedder{}, 7))
	require.Error(t, err)
	assert.Equal(t, apperr.KindModelUnavailable, apperr.KindOf(err))
}
