package search

import (
	"context"
	"fmt"
	"time"

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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var searchTracer = otel.Tracer("talent-search/search")

// State 编排状态
type State string

const (
	StateInit           State = "INIT"
	StateToolOffered    State = "TOOL_OFFERED"
	StateToolInvoked    State = "TOOL_INVOKED"
	StateToolExecuted   State = "TOOL_EXECUTED"
	StateFinalRequested State = "FINAL_REQUESTED"
	StateParsed         State = "PARSED"
	StateDirectAnswered State = "DIRECT_ANSWERED"
	StateFailed         State = "FAILED"
)

const ignoredToolCallMessage = `{"status":"ignored","message":"Only one search_candidates call is executed per request."}`

// Orchestrator 两轮工具调用编排：模型决定是否检索，执行检索后强制输出 JSON
type Orchestrator struct {
	model         model.ToolCallingChatModel
	decisionTemp  float32
	synthesisTemp float32
	maxTokens     int
	timeout       time.Duration
	logger        *zerolog.Logger
}

// OrchestratorOption 编排器选项
type OrchestratorOption func(*Orchestrator)

// WithTemperatures 第一轮（决策）和第二轮（生成）的温度
func WithTemperatures(decision, synthesis float32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.decisionTemp = decision
		o.synthesisTemp = synthesis
	}
}

// WithModelTimeout 单次模型调用超时
func WithModelTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxTokens 单次模型调用的输出上限
func WithMaxTokens(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithOrchestratorLogger 设置日志
func WithOrchestratorLogger(l *zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator m 必须是未绑定工具的模型，工具在每次 Run 时通过 WithTools 绑定到副本上
func NewOrchestrator(m model.ToolCallingChatModel, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		model:         m,
		decisionTemp:  0.1,
		synthesisTemp: 0.5,
		timeout:       60 * time.Second,
		logger:        logger.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewOrchestratorFromConfig 按 llm 配置创建
func NewOrchestratorFromConfig(m model.ToolCallingChatModel, cfg config.LLMConfig) *Orchestrator {
	return NewOrchestrator(m,
		WithTemperatures(cfg.DecisionTemperature, cfg.SynthesisTemperature),
		WithModelTimeout(config.Seconds(cfg.TimeoutSeconds, 60*time.Second)),
		WithMaxTokens(cfg.MaxTokens),
	)
}

// run 单次请求的状态
type run struct {
	state  State
	usage  types.TokenUsage
	logger zerolog.Logger
	span   trace.Span
}

func (r *run) transition(to State) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(to)).Msg("state transition")
	r.span.AddEvent("state", trace.WithAttributes(attribute.String("state", string(to))))
	r.state = to
}

func (r *run) record(msg *schema.Message) {
	in, out := agent.UsageOf(msg)
	r.usage.Add(in, out)
}

func (r *run) outcome(result types.AnalysisResult) *types.SearchOutcome {
	result.Normalize()
	return &types.SearchOutcome{Result: result, Usage: r.usage, FinalState: string(r.state)}
}

func (r *run) fail(err error) (*types.SearchOutcome, error) {
	r.logger.Warn().Err(err).Str("state", string(r.state)).Str("kind", string(apperr.KindOf(err))).Msg("orchestration failed")
	r.transition(StateFailed)
	tracing.RecordError(r.span, err, tracing.ErrorTypeLLM)
	return &types.SearchOutcome{Usage: r.usage, FinalState: string(r.state)}, err
}

// Run 执行一次检索编排。出错时返回的 outcome 仍带有已消耗的 token 和最终状态
func (o *Orchestrator) Run(ctx context.Context, query string, limit int, t *RetrievalTool) (*types.SearchOutcome, error) {
	ctx, span := searchTracer.Start(ctx, "Orchestrator.Run", trace.WithAttributes(
		attribute.Int("search.limit", limit),
		attribute.String("search.query", tracing.SafeQuery(query)),
	))
	defer span.End()

	r := &run{
		state:  StateInit,
		span:   span,
		logger: logger.Ctx(ctx).With().Str("component", "orchestrator").Int("query_len", len(query)).Int("limit", limit).Logger(),
	}

	info, err := t.Info(ctx)
	if err != nil {
		return r.fail(apperr.Wrap(apperr.KindInternal, "tool_info", err))
	}
	bound, err := o.model.WithTools([]*schema.ToolInfo{info})
	if err != nil {
		return r.fail(apperr.Wrap(apperr.KindInternal, "bind_tools", err))
	}

	messages := []*schema.Message{
		schema.SystemMessage(orchestratorSystemPrompt),
		schema.UserMessage(query),
	}
	r.transition(StateToolOffered)

	first, err := o.generate(ctx, bound, messages, o.decisionTemp, "decision")
	if err != nil {
		return r.fail(err)
	}
	r.record(first)

	if len(first.ToolCalls) == 0 {
		reason := agent.FinishReason(first)
		if !isNormalStop(reason) {
			tracing.RecordLLMStop(span, "decision", reason)
			return r.fail(&apperr.Error{
				Kind:      apperr.KindUnexpectedModelStop,
				Op:        "decision_call",
				Detail:    fmt.Sprintf("finish_reason=%s", reason),
				RawOutput: first.Content,
			})
		}
		r.transition(StateDirectAnswered)
		return r.outcome(types.AnalysisResult{
			OverallSummary:        first.Content,
			Candidates:            []types.AnalyzedCandidate{},
			OverallRecommendation: directAnswerRecommendation,
		}), nil
	}

	call := first.ToolCalls[0]
	if call.Function.Name != ToolName {
		return r.fail(apperr.New(apperr.KindUnsupportedTool, "decision_call", fmt.Sprintf("model requested tool %q", call.Function.Name)))
	}
	r.transition(StateToolInvoked)

	args, err := ParseToolArgs(call.Function.Arguments)
	if err != nil {
		return r.fail(err)
	}
	requested := args.NumResults
	k := t.EffectiveResults(requested, limit)
	args.NumResults = k
	r.logger.Info().Int("requested", requested).Int("effective", k).
		Str("level", args.Level).Str("industry", args.Industry).Int("ignored_calls", len(first.ToolCalls)-1).Msg("执行检索工具")

	result, err := t.Search(ctx, args, limit)
	if err != nil {
		return r.fail(err)
	}
	r.transition(StateToolExecuted)
	span.SetAttributes(attribute.Int("search.candidates", result.Count))

	if result.Empty() {
		// 没有候选人时不再调用模型
		r.transition(StateParsed)
		return r.outcome(types.AnalysisResult{
			OverallSummary:        noCandidatesSummary,
			Candidates:            []types.AnalyzedCandidate{},
			OverallRecommendation: noCandidatesRecommendation,
		}), nil
	}

	toolContent, err := result.JSON()
	if err != nil {
		return r.fail(apperr.Wrap(apperr.KindInternal, "encode_tool_result", err))
	}

	messages = append(messages, schema.AssistantMessage(first.Content, first.ToolCalls))
	messages = append(messages, schema.ToolMessage(toolContent, call.ID))
	for _, extra := range first.ToolCalls[1:] {
		messages = append(messages, schema.ToolMessage(ignoredToolCallMessage, extra.ID))
	}
	messages = append(messages, schema.UserMessage(finalAnswerInstruction))
	r.transition(StateFinalRequested)

	second, err := o.generate(ctx, o.model, messages, o.synthesisTemp, "synthesis")
	if err != nil {
		return r.fail(err)
	}
	r.record(second)

	if len(second.ToolCalls) > 0 {
		tracing.RecordLLMStop(span, "synthesis", agent.FinishReason(second))
		return r.fail(&apperr.Error{
			Kind:      apperr.KindUnexpectedModelStop,
			Op:        "synthesis_call",
			Detail:    "model requested another tool call instead of the final answer",
			RawOutput: second.Content,
		})
	}

	analysis, err := parser.ParseAnalysis(second.Content)
	if err != nil {
		return r.fail(err)
	}
	r.transition(StateParsed)
	r.logger.Info().Int("candidates", len(analysis.Candidates)).
		Int("input_tokens", r.usage.InputTokens).Int("output_tokens", r.usage.OutputTokens).Msg("检索分析完成")
	span.SetStatus(codes.Ok, "")
	return r.outcome(analysis), nil
}

func (o *Orchestrator) generate(ctx context.Context, m model.ToolCallingChatModel, messages []*schema.Message, temperature float32, phase string) (*schema.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	opts := []model.Option{model.WithTemperature(temperature)}
	if o.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(o.maxTokens))
	}

	start := time.Now()
	msg, err := m.Generate(callCtx, messages, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModelUnavailable, phase+"_call", err)
	}
	if msg == nil {
		return nil, apperr.New(apperr.KindModelUnavailable, phase+"_call", "model returned no message")
	}
	o.logger.Debug().Str("phase", phase).Dur("latency", time.Since(start)).
		Str("finish_reason", agent.FinishReason(msg)).Int("tool_calls", len(msg.ToolCalls)).Msg("model call finished")
	return msg, nil
}

func isNormalStop(reason string) bool {
	switch reason {
	case "", "stop", "end_turn":
		return true
	}
	return false
}
