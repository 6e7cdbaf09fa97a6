package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/tracing"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("talent-search/storage/qdrant")

// QdrantPointIDNamespace 用于生成确定性的 point ID，同一条记录总是得到同一个 ID
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("fd6c72c2-5a33-4b53-8e7c-8298f3f5a7e1"))

// PointID 根据业务键生成 Qdrant point ID
func PointID(key string) string {
	return uuid.NewV5(QdrantPointIDNamespace, key).String()
}

// Qdrant 单个集合的 REST 客户端
type Qdrant struct {
	endpoint       string
	collectionName string
	apiKey         string
	vectorSize     int
	distanceMetric string
	indexedFields  []string
	httpClient     *http.Client
	logger         *zerolog.Logger
}

// SearchResult 表示一个搜索结果项
type SearchResult struct {
	ID      string                 // 向量ID
	Score   float32                // 相似度分数
	Payload map[string]interface{} // 载荷数据
}

// FieldMatch 等值过滤条件，多个条件之间为 AND
type FieldMatch struct {
	Key   string
	Value string
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量，空值保持 Cosine
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		if metric != "" {
			q.distanceMetric = metric
		}
	}
}

// WithPayloadIndexes 创建集合时为这些字段建立 keyword 索引
func WithPayloadIndexes(fields ...string) QdrantOption {
	return func(q *Qdrant) {
		q.indexedFields = append(q.indexedFields, fields...)
	}
}

// WithQdrantLogger 指定日志实例
func WithQdrantLogger(l *zerolog.Logger) QdrantOption {
	return func(q *Qdrant) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQdrant 创建指定集合的客户端，并确保集合存在
func NewQdrant(ctx context.Context, cfg *config.QdrantConfig, collection string, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant集合名不能为空")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}
	vectorSize := cfg.Dimension
	if vectorSize <= 0 {
		vectorSize = 1536
	}

	q := &Qdrant{
		endpoint:       endpoint,
		collectionName: collection,
		apiKey:         cfg.APIKey,
		vectorSize:     vectorSize,
		distanceMetric: "Cosine",
		httpClient:     &http.Client{Timeout: config.Seconds(cfg.TimeoutSeconds, 10*time.Second)},
		logger:         logger.Component("qdrant"),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(ctx); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", collection, err)
	}

	q.logger.Info().Str("endpoint", endpoint).Str("collection", collection).Str("distance", q.distanceMetric).Msg("成功连接到Qdrant服务器")
	return q, nil
}

// Collection 集合名
func (q *Qdrant) Collection() string {
	return q.collectionName
}

// ensureCollectionExists 确保向量集合存在
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	var collectionInfo struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	status, err := q.doRequestStatus(ctx, http.MethodGet, "/collections/"+q.collectionName, nil, &collectionInfo)
	if status == http.StatusNotFound {
		span.AddEvent("collection_not_found")
		q.logger.Info().Str("collection", q.collectionName).Msg("集合不存在，将创建新集合")
		return q.createCollection(ctx)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	existingSize := collectionInfo.Result.Config.Params.Vectors.Size
	existingDistance := collectionInfo.Result.Config.Params.Vectors.Distance
	if existingSize != q.vectorSize || !strings.EqualFold(existingDistance, q.distanceMetric) {
		q.logger.Warn().
			Int("existing_size", existingSize).Str("existing_distance", existingDistance).
			Int("expected_size", q.vectorSize).Str("expected_distance", q.distanceMetric).
			Msg("现有集合配置与当前配置不匹配")
		span.AddEvent("collection_config_mismatch")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// createCollection 创建新的向量集合及 payload 索引
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	createReqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collectionName, createReqBody, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("创建集合失败: %w", err)
	}

	for _, field := range q.indexedFields {
		indexReq := map[string]interface{}{
			"field_name":   field,
			"field_schema": "keyword",
		}
		path := fmt.Sprintf("/collections/%s/index?wait=true", q.collectionName)
		if err := q.doRequest(ctx, http.MethodPut, path, indexReq, nil); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("创建 payload 索引 %s 失败: %w", field, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	q.logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已成功创建Qdrant集合")
	return nil
}

// UpsertPoint 写入单个点（向量与 payload 一次请求写入）
func (q *Qdrant) UpsertPoint(ctx context.Context, pointID string, vector []float64, payload map[string]interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertPoint",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "qdrant"),
			attribute.String("db.collection", q.collectionName),
			attribute.String("point.id", pointID),
		))
	defer span.End()

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return err
	}

	reqBody := map[string]interface{}{
		"points": []map[string]interface{}{{
			"id":      pointID,
			"vector":  vector,
			"payload": payload,
		}},
	}
	if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), reqBody, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// RetrievePoints 按 ID 读取点（不带向量）
func (q *Qdrant) RetrievePoints(ctx context.Context, pointIDs []string) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.RetrievePoints",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.collection", q.collectionName),
			attribute.Int("points.count", len(pointIDs)),
		))
	defer span.End()

	if len(pointIDs) == 0 {
		return []SearchResult{}, nil
	}

	var resp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	reqBody := map[string]interface{}{
		"ids":          pointIDs,
		"with_payload": true,
		"with_vector":  false,
	}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points", q.collectionName), reqBody, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, SearchResult{ID: fmt.Sprint(p.ID), Payload: p.Payload})
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Search 相似度检索，结果按分数降序；同分时的先后由 Qdrant 决定
func (q *Qdrant) Search(ctx context.Context, queryVector []float64, limit int, must []FieldMatch) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_vectors"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", limit),
		attribute.Int("search.filter_count", len(must)),
	)

	if len(queryVector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(queryVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	searchReq := map[string]interface{}{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if len(must) > 0 {
		conds := make([]map[string]interface{}, 0, len(must))
		for _, m := range must {
			conds = append(conds, map[string]interface{}{
				"key":   m.Key,
				"match": map[string]interface{}{"value": m.Value},
			})
		}
		searchReq["filter"] = map[string]interface{}{"must": conds}
	}

	var result struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}
	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), searchReq, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	searchResults := make([]SearchResult, 0, len(result.Result))
	for _, point := range result.Result {
		searchResults = append(searchResults, SearchResult{
			ID:      fmt.Sprint(point.ID),
			Score:   point.Score,
			Payload: point.Payload,
		})
	}

	span.SetAttributes(
		attribute.Int("search.results.count", len(searchResults)),
		attribute.Float64("qdrant.response_time", result.Time),
	)
	span.SetStatus(codes.Ok, "")
	return searchResults, nil
}

// CountPoints 获取集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CountPoints",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName),
		map[string]interface{}{"exact": true}, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("qdrant.points.count", result.Result.Count))
	span.SetStatus(codes.Ok, "")
	return result.Result.Count, nil
}

func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	_, err := q.doRequestStatus(ctx, method, path, body, result)
	return err
}

// doRequestStatus 发送请求并返回 HTTP 状态码；传输失败时状态码为 0
func (q *Qdrant) doRequestStatus(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return 0, err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	// 注入trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return 0, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.TruncateString(string(respBody), tracing.DefaultMaxLength))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return resp.StatusCode, err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return resp.StatusCode, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return resp.StatusCode, nil
}
