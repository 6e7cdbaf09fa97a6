package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/storage"
	"talent-search/internal/tracing"
	"talent-search/internal/types"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// ToolName 提供给模型的检索工具名
const ToolName = "search_candidates"

// TruncationMarker 候选人简历文本被截断时追加的标记
const TruncationMarker = "...\n(Full resume text truncated for brevity)"

// 工具结果状态
const (
	ToolStatusOK           = "ok"
	ToolStatusNoCandidates = "no_candidates"
)

// CanonicalLevels / CanonicalIndustries 与种子数据使用同一套词表
var (
	CanonicalLevels     = []string{"Junior", "Mid", "Senior", "Lead", "Manager", "Director", "VP"}
	CanonicalIndustries = []string{"Tech", "Finance", "Healthcare", "Retail", "SaaS", "Biotech", "Manufacturing", "E-commerce", "Consulting", "Automotive"}
)

// Retriever 按分区检索，由 *storage.ResumeStore 实现
type Retriever interface {
	Query(ctx context.Context, partition types.Partition, vector []float64, k int, filter storage.Filter) ([]types.ScoredRecord, error)
}

// QueryEmbedder 查询向量化
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Scope 一个检索范围：分区 + 可选的用户
type Scope struct {
	Partition types.Partition
	UserID    string
}

// PrimaryScope 共享主分区
func PrimaryScope() Scope { return Scope{Partition: types.PartitionPrimary} }

// ExternalScope 某个用户的外部分区
func ExternalScope(userID string) Scope {
	return Scope{Partition: types.PartitionExternal, UserID: userID}
}

// ToolArgs 解码后的工具参数
type ToolArgs struct {
	Query      string
	NumResults int // 0 表示模型未指定
	Level      string
	Industry   string
}

// ToolResult 工具返回给模型的内容
type ToolResult struct {
	Status     string                   `json:"status"`
	Message    string                   `json:"message,omitempty"`
	Count      int                      `json:"count"`
	Candidates []types.CandidateSummary `json:"candidates"`
}

// Empty 是否为空结果标记
func (r *ToolResult) Empty() bool {
	return r == nil || r.Status == ToolStatusNoCandidates
}

// JSON 序列化为 tool 消息内容
func (r *ToolResult) JSON() (string, error) {
	out := *r
	if out.Candidates == nil {
		out.Candidates = []types.CandidateSummary{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RetrievalTool 检索工具，实现 eino tool.InvokableTool
type RetrievalTool struct {
	store          Retriever
	embedder       QueryEmbedder
	scopes         []Scope
	defaultResults int
	resultCap      int
	textLimit      int
	logger         *zerolog.Logger
}

// ToolOption 工具选项
type ToolOption func(*RetrievalTool)

// WithDefaultResults 模型未指定 num_results 时的默认值
func WithDefaultResults(n int) ToolOption {
	return func(t *RetrievalTool) {
		if n > 0 {
			t.defaultResults = n
		}
	}
}

// WithResultCap 调用方上限，num_results 不会超过它
func WithResultCap(n int) ToolOption {
	return func(t *RetrievalTool) {
		if n > 0 {
			t.resultCap = n
		}
	}
}

// WithCandidateTextLimit 每个候选人简历文本的 rune 上限
func WithCandidateTextLimit(n int) ToolOption {
	return func(t *RetrievalTool) {
		if n > 0 {
			t.textLimit = n
		}
	}
}

// WithToolLogger 设置日志
func WithToolLogger(l *zerolog.Logger) ToolOption {
	return func(t *RetrievalTool) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewRetrievalTool 创建检索工具，scopes 至少一个
func NewRetrievalTool(store Retriever, embedder QueryEmbedder, scopes []Scope, opts ...ToolOption) *RetrievalTool {
	t := &RetrievalTool{
		store:          store,
		embedder:       embedder,
		scopes:         scopes,
		defaultResults: config.DefaultToolNumResults,
		resultCap:      config.MaxResultLimit,
		textLimit:      config.DefaultCandidateTextLimit,
		logger:         logger.Component("retrieval_tool"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Scopes 工具的检索范围
func (t *RetrievalTool) Scopes() []Scope {
	return append([]Scope(nil), t.scopes...)
}

// Info 工具元信息
func (t *RetrievalTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: "Semantic search over the candidate resume database. Returns the most similar resumes " +
			"with contact details, skills and a resume excerpt. Use it for any request to find or compare candidates.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Natural language description of the ideal candidate, e.g. skills, role and experience.",
				Required: true,
			},
			"num_results": {
				Type: schema.Integer,
				Desc: fmt.Sprintf("How many candidates to retrieve. Defaults to %d.", t.defaultResults),
			},
			"level": {
				Type: schema.String,
				Desc: "Optional seniority filter. One of: " + strings.Join(CanonicalLevels, ", ") + ".",
			},
			"industry": {
				Type: schema.String,
				Desc: "Optional industry filter. One of: " + strings.Join(CanonicalIndustries, ", ") + ".",
			},
		}),
	}, nil
}

// InvokableRun 解析参数并执行检索，num_results 受 resultCap 限制
func (t *RetrievalTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := ParseToolArgs(argumentsInJSON)
	if err != nil {
		return "", err
	}
	res, err := t.Search(ctx, args, t.resultCap)
	if err != nil {
		return "", err
	}
	return res.JSON()
}

var _ tool.InvokableTool = (*RetrievalTool)(nil)

// EffectiveResults num_results = min(模型请求值或默认值, 调用方上限)
func (t *RetrievalTool) EffectiveResults(requested, limit int) int {
	n := requested
	if n <= 0 {
		n = t.defaultResults
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// Search 向量化一次查询，检索全部 scope 并合并
func (t *RetrievalTool) Search(ctx context.Context, args ToolArgs, limit int) (*ToolResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, apperr.New(apperr.KindInvalidToolInput, "search_tool", "query must not be empty")
	}
	if len(t.scopes) == 0 {
		return nil, apperr.New(apperr.KindInternal, "search_tool", "retrieval tool has no scope")
	}
	k := t.EffectiveResults(args.NumResults, limit)

	vector, err := t.embedder.Embed(ctx, args.Query)
	if err != nil {
		return nil, err
	}

	var all []types.ScoredRecord
	for _, sc := range t.scopes {
		recs, err := t.store.Query(ctx, sc.Partition, vector, k, storage.Filter{
			Level:    args.Level,
			Industry: args.Industry,
			UserID:   sc.UserID,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	if len(t.scopes) > 1 {
		all = MergeScored(all, k)
	}

	t.logger.Debug().Int("k", k).Int("scopes", len(t.scopes)).Int("hits", len(all)).
		Str("level", args.Level).Str("industry", args.Industry).Msg("检索完成")

	if len(all) == 0 {
		return &ToolResult{
			Status:     ToolStatusNoCandidates,
			Message:    "No candidates in the database match the search criteria.",
			Candidates: []types.CandidateSummary{},
		}, nil
	}

	summaries := make([]types.CandidateSummary, 0, len(all))
	for _, r := range all {
		summaries = append(summaries, Summarize(r, t.textLimit))
	}
	return &ToolResult{Status: ToolStatusOK, Count: len(summaries), Candidates: summaries}, nil
}

// Summarize 检索记录转为发给模型的摘要，简历文本按 rune 截断
func Summarize(r types.ScoredRecord, textLimit int) types.CandidateSummary {
	rec := r.Record
	return types.CandidateSummary{
		ID:         rec.ID,
		Name:       rec.Name,
		Email:      rec.Contact.Email,
		Phone:      rec.Contact.Phone,
		JobTitle:   rec.JobTitle,
		Level:      rec.Level,
		Industry:   rec.Industry,
		Skills:     strings.Join(rec.Skills, ", "),
		ResumeURL:  rec.ResumeURL,
		Score:      r.Score,
		ResumeText: tracing.TruncateWithMarker(rec.RawText, textLimit, TruncationMarker),
	}
}

// MergeScored 多个 scope 的结果合并：分数降序，同分时主分区在前，再按 id 升序，取前 k 个
func MergeScored(records []types.ScoredRecord, k int) []types.ScoredRecord {
	out := append([]types.ScoredRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := partitionRank(a.Partition), partitionRank(b.Partition); pa != pb {
			return pa < pb
		}
		return a.Record.ID < b.Record.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func partitionRank(p types.Partition) int {
	if p == types.PartitionPrimary {
		return 0
	}
	return 1
}

type rawToolArgs struct {
	Query      *string         `json:"query"`
	NumResults json.RawMessage `json:"num_results"`
	Level      *string         `json:"level"`
	Industry   *string         `json:"industry"`
}

// ParseToolArgs 严格解码模型给出的工具参数
func ParseToolArgs(argumentsInJSON string) (ToolArgs, error) {
	invalid := func(format string, a ...interface{}) (ToolArgs, error) {
		return ToolArgs{}, apperr.New(apperr.KindInvalidToolInput, "parse_tool_args", fmt.Sprintf(format, a...))
	}

	trimmed := strings.TrimSpace(argumentsInJSON)
	if !strings.HasPrefix(trimmed, "{") {
		return invalid("arguments must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var raw rawToolArgs
	if err := dec.Decode(&raw); err != nil {
		return invalid("malformed arguments: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return invalid("unexpected data after arguments object")
	}

	if raw.Query == nil || strings.TrimSpace(*raw.Query) == "" {
		return invalid("query is required")
	}
	args := ToolArgs{Query: strings.TrimSpace(*raw.Query)}

	if n := bytes.TrimSpace(raw.NumResults); len(n) > 0 && string(n) != "null" {
		if n[0] == '"' {
			return invalid("num_results must be an integer")
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil || f != math.Trunc(f) {
			return invalid("num_results must be an integer")
		}
		if f < 1 {
			return invalid("num_results must be positive")
		}
		if f > math.MaxInt32 {
			f = math.MaxInt32
		}
		args.NumResults = int(f)
	}

	if raw.Level != nil {
		args.Level = canonicalize(*raw.Level, CanonicalLevels)
	}
	if raw.Industry != nil {
		args.Industry = canonicalize(*raw.Industry, CanonicalIndustries)
	}
	return args, nil
}

// canonicalize 去空白；大小写不敏感地匹配词表时替换为标准写法
func canonicalize(v string, vocabulary []string) string {
	v = strings.TrimSpace(v)
	for _, c := range vocabulary {
		if strings.EqualFold(v, c) {
			return c
		}
	}
	return v
}
