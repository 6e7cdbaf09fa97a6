package search

import (
	"context"
	"sort"
	"sync"

	"talent-search/internal/apperr"
	"talent-search/internal/fixtures"
	"talent-search/internal/storage"
	"talent-search/internal/types"

	"github.com/cloudwego/eino/schema"
)

type queryCall struct {
	Partition types.Partition
	K         int
	Filter    storage.Filter
}

// fakeStore 按过滤条件返回预置记录，分数按插入顺序递减
type fakeStore struct {
	mu      sync.Mutex
	records map[types.Partition][]types.ScoredRecord
	calls   []queryCall
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[types.Partition][]types.ScoredRecord{}}
}

func (s *fakeStore) add(p types.Partition, score float32, rec types.ResumeRecord) {
	s.records[p] = append(s.records[p], types.ScoredRecord{Record: rec, Score: score, Partition: p})
}

func (s *fakeStore) Query(_ context.Context, p types.Partition, _ []float64, k int, f storage.Filter) ([]types.ScoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, queryCall{Partition: p, K: k, Filter: f})
	if s.err != nil {
		return nil, s.err
	}
	var out []types.ScoredRecord
	for _, r := range s.records[p] {
		if f.Level != "" && r.Record.Level != f.Level {
			continue
		}
		if f.Industry != "" && r.Record.Industry != f.Industry {
			continue
		}
		if f.UserID != "" && r.Record.UserID != f.UserID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *fakeStore) Calls() []queryCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queryCall(nil), s.calls...)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "embed", e.err)
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fixtureStore 主分区装入三条固定简历
func fixtureStore() *fakeStore {
	s := newFakeStore()
	for i, rec := range fixtures.Canonical() {
		s.add(types.PartitionPrimary, 0.9-float32(i)*0.1, rec)
	}
	return s
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func usage(in, out int) *schema.TokenUsage {
	return &schema.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

const aliceAnalysis = `{
  "overall_summary": "One strong match.",
  "candidates": [
    {
      "name": "Alice Anderson",
      "contact_information": {"email": "alice.anderson@example.com", "phone": "(123) 555-0001"},
      "summary": "Senior backend engineer with Python and AWS.",
      "resume_pdf_url": "https://resumes.example.com/dev-001.pdf"
    }
  ],
  "overall_recommendation": "Contact Alice first."
}`
