package search

import (
	"context"
	"strings"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ExternalIngestor 外部文件库路径，由 ingest.Ingestor 实现
type ExternalIngestor interface {
	Ingest(ctx context.Context, userID string, locationIDs []string, token *types.ExternalAuthToken) (*types.IngestReport, error)
	IngestAndQuery(ctx context.Context, q types.ExternalQuery) (*types.SearchOutcome, error)
}

// SearchEvent 一次请求结束后的观测数据
type SearchEvent struct {
	RequestID      string
	Principal      string
	Source         string
	Query          string
	ResultLimit    int
	LocationIDs    []string
	Status         string
	Kind           string
	FinalState     string
	Usage          types.TokenUsage
	CandidateCount int
	Latency        time.Duration
}

// Observer 接收每次请求的结果（指标、审计）
type Observer interface {
	ObserveSearch(ctx context.Context, ev SearchEvent)
}

type requestIDKey struct{}

// WithRequestID 把请求 ID 放进 context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 读取请求 ID，没有时返回空串
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// SourceRouter 按来源分派请求，并把所有错误转换为统一响应
type SourceRouter struct {
	orchestrator *Orchestrator
	store        Retriever
	embedder     QueryEmbedder
	ingestor     ExternalIngestor
	cfg          config.SearchConfig
	observers    []Observer
	logger       *zerolog.Logger
}

// RouterOption 路由选项
type RouterOption func(*SourceRouter)

// WithIngestor 启用外部文件库来源
func WithIngestor(i ExternalIngestor) RouterOption {
	return func(r *SourceRouter) { r.ingestor = i }
}

// WithObservers 追加观察者
func WithObservers(obs ...Observer) RouterOption {
	return func(r *SourceRouter) {
		for _, o := range obs {
			if o != nil {
				r.observers = append(r.observers, o)
			}
		}
	}
}

// NewSourceRouter 创建路由
func NewSourceRouter(o *Orchestrator, store Retriever, embedder QueryEmbedder, cfg config.SearchConfig, opts ...RouterOption) *SourceRouter {
	r := &SourceRouter{
		orchestrator: o,
		store:        store,
		embedder:     embedder,
		cfg:          cfg,
		logger:       logger.Component("source_router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SourceRouter) newTool(limit int, scopes ...Scope) *RetrievalTool {
	return NewRetrievalTool(r.store, r.embedder, scopes,
		WithDefaultResults(r.cfg.ToolDefaultResults),
		WithResultCap(limit),
		WithCandidateTextLimit(r.cfg.CandidateTextLimit),
	)
}

// Route 按来源执行检索。req.ResultLimit 应已经过 ClampResultLimit
func (r *SourceRouter) Route(ctx context.Context, req types.SearchRequest, userID string) (*types.SearchOutcome, error) {
	source, err := types.ParseSource(req.Source)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidSource, "route", err.Error())
	}
	limit := r.cfg.ClampResultLimit(req.ResultLimit)

	switch source {
	case types.SourcePrimary:
		return r.orchestrator.Run(ctx, req.Query, limit, r.newTool(limit, PrimaryScope()))

	case types.SourceExternal:
		if r.ingestor == nil {
			return nil, apperr.New(apperr.KindExternalSourceUnavailable, "route", "external document source is not configured")
		}
		return r.ingestor.IngestAndQuery(ctx, types.ExternalQuery{
			Query:       req.Query,
			Limit:       limit,
			LocationIDs: req.ExternalLocationIDs,
			UserID:      userID,
			Token:       req.ExternalAuthToken,
		})

	case types.SourceBoth:
		if r.ingestor == nil {
			return nil, apperr.New(apperr.KindExternalSourceUnavailable, "route", "external document source is not configured")
		}
		report, err := r.ingestor.Ingest(ctx, userID, req.ExternalLocationIDs, req.ExternalAuthToken)
		if err != nil {
			return nil, err
		}
		r.logger.Info().Int("indexed", report.Indexed).Int("skipped_exists", report.SkippedExists).
			Int("skipped_failed", report.SkippedFailed).Bool("lock_skipped", report.LockSkipped).Msg("Both: 外部文档导入完成")
		return r.orchestrator.Run(ctx, req.Query, limit, r.newTool(limit, PrimaryScope(), ExternalScope(userID)))
	}
	return nil, apperr.New(apperr.KindInvalidSource, "route", "unsupported source")
}

// Handle 校验请求、执行 Route，并转换为统一响应
func (r *SourceRouter) Handle(ctx context.Context, req types.SearchRequest, userID string) types.SearchResponse {
	start := time.Now()
	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = WithRequestID(ctx, requestID)
	}

	ctx, span := searchTracer.Start(ctx, "SourceRouter.Handle")
	defer span.End()

	req.Query = strings.TrimSpace(req.Query)
	req.ResultLimit = r.cfg.ClampResultLimit(req.ResultLimit)
	l := logger.Ctx(ctx).With().Str("component", "source_router").Str("request_id", requestID).
		Str("source", req.Source).Int("query_len", len(req.Query)).Int("result_limit", req.ResultLimit).Logger()
	ctx = l.WithContext(ctx)
	span.SetAttributes(attribute.String("search.source", req.Source), attribute.Int("search.limit", req.ResultLimit))

	var (
		outcome *types.SearchOutcome
		err     error
	)
	if req.Query == "" {
		// 空查询在任何向量化或模型调用之前拒绝
		err = apperr.New(apperr.KindInvalidRequest, "validate", "query must not be empty")
	} else {
		outcome, err = r.Route(ctx, req, userID)
	}

	ev := SearchEvent{
		RequestID:   requestID,
		Principal:   userID,
		Source:      req.Source,
		Query:       req.Query,
		ResultLimit: req.ResultLimit,
		LocationIDs: req.ExternalLocationIDs,
		Latency:     time.Since(start),
	}
	if outcome != nil {
		ev.Usage = outcome.Usage
		ev.FinalState = outcome.FinalState
	}

	var resp types.SearchResponse
	if err != nil {
		kind := apperr.KindOf(err)
		l.Warn().Err(err).Str("kind", string(kind)).Msg("检索请求失败")
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		resp = types.SearchResponse{
			Status:    types.StatusError,
			Kind:      string(kind),
			Message:   apperr.PublicMessage(err),
			RawOutput: apperr.RawOutputOf(err),
		}
		ev.Status, ev.Kind = types.StatusError, string(kind)
	} else {
		result := outcome.Result
		result.Normalize()
		usage := outcome.Usage
		resp = types.SearchResponse{Status: types.StatusSuccess, AnalysisData: &result, Usage: &usage}
		ev.Status = types.StatusSuccess
		ev.CandidateCount = len(result.Candidates)
		l.Info().Str("state", outcome.FinalState).Int("candidates", ev.CandidateCount).
			Int("input_tokens", usage.InputTokens).Int("output_tokens", usage.OutputTokens).
			Dur("latency", ev.Latency).Msg("检索请求完成")
	}

	for _, o := range r.observers {
		o.ObserveSearch(ctx, ev)
	}
	return resp
}
