package search

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/parser"
	"talent-search/internal/tracing"
	"talent-search/internal/types"
	"talent-search/pkg/agent"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ChatGenerator 单轮分析只需要 Generate
type ChatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Analyzer 外部文档路径的单轮分析：不提供工具，直接要求 JSON
type Analyzer struct {
	model          ChatGenerator
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	candidateLimit int
	aggregateLimit int
	logger         *zerolog.Logger
}

// NewAnalyzer 创建分析器
func NewAnalyzer(m ChatGenerator, llm config.LLMConfig, search config.SearchConfig) *Analyzer {
	a := &Analyzer{
		model:          m,
		temperature:    llm.SynthesisTemperature,
		maxTokens:      llm.MaxTokens,
		timeout:        config.Seconds(llm.TimeoutSeconds, 60*time.Second),
		candidateLimit: search.CandidateTextLimit,
		aggregateLimit: search.AggregateTextLimit,
		logger:         logger.Component("analyzer"),
	}
	if a.temperature <= 0 {
		a.temperature = 0.5
	}
	if a.candidateLimit <= 0 {
		a.candidateLimit = config.DefaultCandidateTextLimit
	}
	if a.aggregateLimit <= 0 {
		a.aggregateLimit = config.DefaultAggregateTextLimit
	}
	return a
}

// Analyze 对已检索的记录做一次分析。records 为空时返回固定的空结果，不调用模型
func (a *Analyzer) Analyze(ctx context.Context, query string, records []types.ScoredRecord) (*types.SearchOutcome, error) {
	ctx, span := searchTracer.Start(ctx, "Analyzer.Analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("analyzer.records", len(records)))

	if len(records) == 0 {
		return &types.SearchOutcome{
			Result: types.AnalysisResult{
				OverallSummary:        "No documents in the selected locations matched the search criteria.",
				Candidates:            []types.AnalyzedCandidate{},
				OverallRecommendation: noCandidatesRecommendation,
			},
			FinalState: string(StateParsed),
		}, nil
	}

	prompt := a.BuildPrompt(query, records)
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	opts := []model.Option{model.WithTemperature(a.temperature)}
	if a.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(a.maxTokens))
	}
	msg, err := a.model.Generate(callCtx, []*schema.Message{
		schema.SystemMessage(analyzerSystemPrompt),
		schema.UserMessage(prompt),
	}, opts...)
	if err != nil {
		err = apperr.Wrap(apperr.KindModelUnavailable, "analyze_call", err)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return &types.SearchOutcome{FinalState: string(StateFailed)}, err
	}

	var usage types.TokenUsage
	usage.Add(agent.UsageOf(msg))

	analysis, err := parser.ParseAnalysis(msg.Content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return &types.SearchOutcome{Usage: usage, FinalState: string(StateFailed)}, err
	}
	a.logger.Info().Int("records", len(records)).Int("candidates", len(analysis.Candidates)).
		Int("prompt_runes", utf8.RuneCountInString(prompt)).Msg("外部文档分析完成")
	return &types.SearchOutcome{Result: analysis, Usage: usage, FinalState: string(StateParsed)}, nil
}

// BuildPrompt 拼接候选文档。单篇原文最多 candidateLimit 个 rune，
// 候选人段落（标题、正文、截断标记、分隔符）合计不超过 aggregateLimit。原文只截断一次
func (a *Analyzer) BuildPrompt(query string, records []types.ScoredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The hiring manager is looking for: %q\n\n", query)
	b.WriteString(candidateSectionHeader)

	markerLen := utf8.RuneCountInString(TruncationMarker)
	budget := a.aggregateLimit
	for i, r := range records {
		rec := r.Record
		header := fmt.Sprintf("Candidate %d: Name: %s, Email: %s, Phone: %s, Resume URL: %s\nResume text:\n",
			i+1, rec.Name, rec.Contact.Email, rec.Contact.Phone, rec.ResumeURL)
		avail := budget - utf8.RuneCountInString(header) - utf8.RuneCountInString(candidateSeparator)
		if avail <= 0 {
			break
		}

		text := rec.RawText
		if n := utf8.RuneCountInString(text); n > a.candidateLimit || n > avail {
			keep := min(a.candidateLimit, avail-markerLen)
			if keep <= 0 {
				break
			}
			text = string([]rune(text)[:keep]) + TruncationMarker
		}

		b.WriteString(header)
		b.WriteString(text)
		b.WriteString(candidateSeparator)
		budget = avail - utf8.RuneCountInString(text)
	}
	return b.String()
}

const (
	candidateSectionHeader = "Candidate resumes retrieved from the user's documents:\n\n"
	candidateSeparator     = "\n---\n"
)
