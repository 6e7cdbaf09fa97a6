package parser

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/constants"
	"talent-search/internal/logger"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// VectorCache 查询向量缓存，由 storage.Redis 实现
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float64, bool, error)
	SetVector(ctx context.Context, key string, vector []float64, ttl time.Duration) error
}

// OpenAIEmbedder 通过 OpenAI 兼容的 /embeddings 接口生成向量，实现 eino embedding.Embedder
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	cache      VectorCache
	cacheTTL   time.Duration
	logger     *zerolog.Logger
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

// EmbedderOption OpenAIEmbedder 的配置选项
type EmbedderOption func(*OpenAIEmbedder)

// WithVectorCache 启用查询向量缓存
func WithVectorCache(cache VectorCache, ttl time.Duration) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithEmbedderLogger 指定日志实例
func WithEmbedderLogger(l *zerolog.Logger) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.logger = l
	}
}

// WithEmbeddingClient 使用外部构造的 go-openai 客户端（测试时指向 httptest）
func WithEmbeddingClient(client *openai.Client) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.client = client
	}
}

// NewOpenAIEmbedder 创建向量化客户端
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	e := &OpenAIEmbedder{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    config.Seconds(cfg.TimeoutSeconds, 20*time.Second),
		logger:     logger.Component("embedder"),
	}
	if e.model == "" {
		e.model = string(openai.SmallEmbedding3)
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding API密钥不能为空")
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		e.client = openai.NewClientWithConfig(clientCfg)
	}
	return e, nil
}

// NormalizeText 提交前把换行替换为空格
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.ReplaceAll(text, "\n", " ")
}

// Dimensions 配置的向量维度
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed 单条文本向量化，查询路径使用，可命中缓存
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	normalized := NormalizeText(text)
	if strings.TrimSpace(normalized) == "" {
		return nil, apperr.New(apperr.KindEmbedding, "embed", "empty text")
	}

	cacheKey := ""
	if e.cache != nil {
		cacheKey = e.cacheKey(normalized)
		if vec, ok, err := e.cache.GetVector(ctx, cacheKey); err != nil {
			e.logger.Warn().Err(err).Msg("读取向量缓存失败，直接调用接口")
		} else if ok && len(vec) > 0 {
			return vec, nil
		}
	}

	vectors, err := e.embed(ctx, []string{normalized}, e.model)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetVector(ctx, cacheKey, vectors[0], e.cacheTTL); err != nil {
			e.logger.Warn().Err(err).Msg("写入向量缓存失败")
		}
	}
	return vectors[0], nil
}

// EmbedStrings 实现 embedding.Embedder
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := embedding.GetCommonOptions(&embedding.Options{Model: &e.model}, opts...)
	model := e.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = NormalizeText(t)
		if strings.TrimSpace(inputs[i]) == "" {
			return nil, apperr.New(apperr.KindEmbedding, "embed_strings", fmt.Sprintf("text %d is empty", i))
		}
	}
	if len(inputs) == 0 {
		return [][]float64{}, nil
	}
	return e.embed(ctx, inputs, model)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, inputs []string, model string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.KindEmbedding, "rate_wait", err)
		}
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		e.logger.Error().Err(err).Int("inputs", len(inputs)).Dur("elapsed", time.Since(start)).Msg("embedding 调用失败")
		return nil, apperr.Wrap(apperr.KindEmbedding, "create_embeddings", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, apperr.New(apperr.KindEmbedding, "create_embeddings",
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)))
	}

	out := make([][]float64, len(inputs))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if len(item.Embedding) == 0 {
			return nil, apperr.New(apperr.KindEmbedding, "create_embeddings", "provider returned an empty vector")
		}
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		out[idx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, apperr.New(apperr.KindEmbedding, "create_embeddings", fmt.Sprintf("missing embedding for input %d", i))
		}
	}

	e.logger.Debug().Int("inputs", len(inputs)).Int("prompt_tokens", resp.Usage.PromptTokens).
		Dur("elapsed", time.Since(start)).Msg("embedding 完成")
	return out, nil
}

func (e *OpenAIEmbedder) cacheKey(normalized string) string {
	sum := sha1.Sum([]byte(e.model + "|" + normalized))
	return fmt.Sprintf(constants.KeyEmbeddingVector, hex.EncodeToString(sum[:]))
}
