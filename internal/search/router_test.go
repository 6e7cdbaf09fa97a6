package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/types"
	"talent-search/pkg/agent"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	ingestCalls []string
	queries     []types.ExternalQuery
	ingestErr   error
	outcome     *types.SearchOutcome
}

func (f *fakeIngestor) Ingest(_ context.Context, userID string, _ []string, token *types.ExternalAuthToken) (*types.IngestReport, error) {
	f.ingestCalls = append(f.ingestCalls, userID)
	if token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "ingest", "missing token")
	}
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &types.IngestReport{Listed: 1, Indexed: 1}, nil
}

func (f *fakeIngestor) IngestAndQuery(_ context.Context, q types.ExternalQuery) (*types.SearchOutcome, error) {
	f.queries = append(f.queries, q)
	if q.Token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "ingest", "missing token")
	}
	return f.outcome, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []SearchEvent
}

func (o *recordingObserver) ObserveSearch(_ context.Context, ev SearchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func searchCfg() config.SearchConfig {
	return config.SearchConfig{
		DefaultResultLimit: config.DefaultResultLimit,
		MaxResultLimit:     config.MaxResultLimit,
		ToolDefaultResults: config.DefaultToolNumResults,
		CandidateTextLimit: config.DefaultCandidateTextLimit,
		AggregateTextLimit: config.DefaultAggregateTextLimit,
	}
}

func TestHandle_EmptyQueryMakesNoCalls(t *testing.T) {
	mock := agent.NewMockChatClientSequential(nil)
	emb := &fakeEmbedder{}
	obs := &recordingObserver{}
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), emb, searchCfg(), WithObservers(obs))

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "   ", Source: "PrimaryStore"}, "alice")

	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, string(apperr.KindInvalidRequest), resp.Kind)
	assert.Equal(t, "query must not be empty", resp.Message)
	assert.Equal(t, 0, emb.Calls())
	assert.Equal(t, 0, mock.CallCount())

	require.Len(t, obs.events, 1)
	assert.Equal(t, types.StatusError, obs.events[0].Status)
	assert.NotEmpty(t, obs.events[0].RequestID)
}

func TestHandle_InvalidSource(t *testing.T) {
	mock := agent.NewMockChatClientSequential(nil)
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), &fakeEmbedder{}, searchCfg())

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "x", Source: "LinkedIn"}, "alice")
	assert.Equal(t, string(apperr.KindInvalidSource), resp.Kind)
	assert.Equal(t, 0, mock.CallCount())
}

func TestHandle_PrimarySuccess(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"python aws","level":"Senior","num_results":12}`)}, Usage: usage(100, 20)},
		{Content: aliceAnalysis, Usage: usage(300, 60)},
	})
	store := fixtureStore()
	obs := &recordingObserver{}
	r := NewSourceRouter(NewOrchestrator(mock), store, &fakeEmbedder{}, searchCfg(), WithObservers(obs))

	ctx := WithRequestID(context.Background(), "req-1")
	resp := r.Handle(ctx, types.SearchRequest{Query: "Senior backend engineer with Python and AWS", ResultLimit: 5}, "alice")

	require.Equal(t, types.StatusSuccess, resp.Status, resp.Message)
	require.NotNil(t, resp.AnalysisData)
	require.Len(t, resp.AnalysisData.Candidates, 1)
	assert.Equal(t, "Alice Anderson", resp.AnalysisData.Candidates[0].Name)
	assert.Equal(t, &types.TokenUsage{InputTokens: 400, OutputTokens: 80}, resp.Usage)
	assert.Equal(t, 5, store.Calls()[0].K)

	require.Len(t, obs.events, 1)
	ev := obs.events[0]
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "alice", ev.Principal)
	assert.Equal(t, 1, ev.CandidateCount)
	assert.Equal(t, string(StateParsed), ev.FinalState)
	assert.Equal(t, 5, ev.ResultLimit)
}

func TestHandle_ClampsResultLimit(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"x","num_results":100}`)}},
		{Content: aliceAnalysis},
	})
	store := fixtureStore()
	r := NewSourceRouter(NewOrchestrator(mock), store, &fakeEmbedder{}, searchCfg())

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "x", ResultLimit: 500}, "alice")
	require.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, config.MaxResultLimit, store.Calls()[0].K)
}

func TestHandle_MalformedCarriesRawOutput(t *testing.T) {
	raw := "```json\n{\"overall_summary\": oops}\n```"
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"x"}`)}},
		{Content: raw},
	})
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), &fakeEmbedder{}, searchCfg())

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "x"}, "alice")
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, string(apperr.KindMalformedAnalysisJSON), resp.Kind)
	assert.Equal(t, raw, resp.RawOutput)
	assert.Nil(t, resp.AnalysisData)
}

func TestHandle_ProviderTextNotLeaked(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("401 invalid api key sk-secret")},
	})
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), &fakeEmbedder{}, searchCfg())

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "x"}, "alice")
	assert.Equal(t, string(apperr.KindModelUnavailable), resp.Kind)
	assert.NotContains(t, resp.Message, "sk-secret")
}

func TestRoute_External(t *testing.T) {
	ing := &fakeIngestor{outcome: &types.SearchOutcome{
		Result:     types.AnalysisResult{OverallSummary: "from drive"},
		FinalState: string(StateParsed),
	}}
	mock := agent.NewMockChatClientSequential(nil)
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), &fakeEmbedder{}, searchCfg(), WithIngestor(ing))

	token := &types.ExternalAuthToken{AccessToken: "tok"}
	resp := r.Handle(context.Background(), types.SearchRequest{
		Query: "x", Source: "ExternalStore", ResultLimit: 3,
		ExternalLocationIDs: []string{"folder-1"}, ExternalAuthToken: token,
	}, "alice")

	require.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, "from drive", resp.AnalysisData.OverallSummary)
	assert.NotNil(t, resp.AnalysisData.Candidates)
	require.Len(t, ing.queries, 1)
	assert.Equal(t, types.ExternalQuery{Query: "x", Limit: 3, LocationIDs: []string{"folder-1"}, UserID: "alice", Token: token}, ing.queries[0])
	assert.Equal(t, 0, mock.CallCount())

	resp = r.Handle(context.Background(), types.SearchRequest{Query: "x", Source: "external"}, "alice")
	assert.Equal(t, string(apperr.KindMissingCredential), resp.Kind)
}

func TestRoute_ExternalWithoutIngestor(t *testing.T) {
	r := NewSourceRouter(NewOrchestrator(agent.NewMockChatClientSequential(nil)), fixtureStore(), &fakeEmbedder{}, searchCfg())
	for _, src := range []string{"ExternalStore", "Both"} {
		resp := r.Handle(context.Background(), types.SearchRequest{Query: "x", Source: src}, "alice")
		assert.Equal(t, string(apperr.KindExternalSourceUnavailable), resp.Kind, src)
	}
}

func TestRoute_BothIngestsThenSearchesBothScopes(t *testing.T) {
	store := fixtureStore()
	store.add(types.PartitionExternal, 0.95, types.ResumeRecord{ID: "drive-1", Name: "Dana Drive", Level: "Senior", UserID: "alice"})
	store.add(types.PartitionExternal, 0.99, types.ResumeRecord{ID: "drive-bob", Name: "Bob's Doc", Level: "Senior", UserID: "bob"})

	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{ToolCalls: []schema.ToolCall{toolCall("c1", ToolName, `{"query":"senior","level":"Senior","num_results":2}`)}},
		{Content: aliceAnalysis},
	})
	ing := &fakeIngestor{}
	r := NewSourceRouter(NewOrchestrator(mock), store, &fakeEmbedder{}, searchCfg(), WithIngestor(ing))

	resp := r.Handle(context.Background(), types.SearchRequest{
		Query: "senior", Source: "both", ExternalAuthToken: &types.ExternalAuthToken{AccessToken: "tok"},
	}, "alice")
	require.Equal(t, types.StatusSuccess, resp.Status, resp.Message)
	assert.Equal(t, []string{"alice"}, ing.ingestCalls)

	calls := store.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, types.PartitionPrimary, calls[0].Partition)
	assert.Equal(t, types.PartitionExternal, calls[1].Partition)
	assert.Equal(t, "alice", calls[1].Filter.UserID)

	var toolContent string
	for _, m := range mock.Calls()[1].Messages {
		if m.Role == schema.Tool {
			toolContent = m.Content
		}
	}
	assert.Contains(t, toolContent, "drive-1")
	assert.Contains(t, toolContent, "dev-001")
	assert.NotContains(t, toolContent, "drive-bob")
}

func TestRoute_BothRequiresCredential(t *testing.T) {
	mock := agent.NewMockChatClientSequential(nil)
	r := NewSourceRouter(NewOrchestrator(mock), fixtureStore(), &fakeEmbedder{}, searchCfg(), WithIngestor(&fakeIngestor{}))

	resp := r.Handle(context.Background(), types.SearchRequest{Query: "x", Source: "Both"}, "alice")
	assert.Equal(t, string(apperr.KindMissingCredential), resp.Kind)
	assert.Equal(t, 0, mock.CallCount())
}
