package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/config"
	"talent-search/internal/constants"
	"talent-search/internal/logger"
	"talent-search/internal/parser"
	"talent-search/internal/search"
	"talent-search/internal/storage"
	"talent-search/internal/tracing"
	"talent-search/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// 单个文档的导入结果，也是 ingested_documents_total 的 outcome 标签
const (
	OutcomeIndexed       = "indexed"
	OutcomeSkippedExists = "skipped_exists"
	OutcomeSkippedFailed = "skipped_failed"
)

// RecordStore 外部分区读写，由 *storage.ResumeStore 实现
type RecordStore interface {
	Exists(ctx context.Context, partition types.Partition, userID, recordID string) (bool, error)
	Upsert(ctx context.Context, partition types.Partition, record types.ResumeRecord, vector []float64) (bool, error)
	Query(ctx context.Context, partition types.Partition, vector []float64, k int, filter storage.Filter) ([]types.ScoredRecord, error)
}

// Locker 按用户串行化导入，由 *storage.Redis 实现
type Locker interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// DocumentAnalyzer 对检索到的文档做单轮分析，由 *search.Analyzer 实现
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, query string, records []types.ScoredRecord) (*types.SearchOutcome, error)
}

// Recorder 记录每个文档的导入结果
type Recorder interface {
	ObserveIngestedDocument(outcome string)
}

var (
	_ RecordStore      = (*storage.ResumeStore)(nil)
	_ Locker           = (*storage.Redis)(nil)
	_ DocumentAnalyzer = (*search.Analyzer)(nil)
)

// Ingestor 外部文件库导入 + 查询
type Ingestor struct {
	source    DocumentSource
	store     RecordStore
	embedder  search.QueryEmbedder
	extractor parser.TextExtractor
	analyzer  DocumentAnalyzer
	locker    Locker
	recorder  Recorder
	workers   int
	lockTTL   time.Duration
	maxDocs   int
	logger    *zerolog.Logger
}

// Option Ingestor 选项
type Option func(*Ingestor)

// WithLocker 启用按用户的导入锁
func WithLocker(l Locker) Option {
	return func(in *Ingestor) { in.locker = l }
}

// WithRecorder 导入结果计数
func WithRecorder(r Recorder) Option {
	return func(in *Ingestor) { in.recorder = r }
}

// WithLogger 设置日志
func WithLogger(l *zerolog.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIngestor 创建导入器
func NewIngestor(source DocumentSource, store RecordStore, embedder search.QueryEmbedder, extractor parser.TextExtractor,
	analyzer DocumentAnalyzer, cfg config.IngestConfig, opts ...Option) *Ingestor {
	in := &Ingestor{
		source:    source,
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		analyzer:  analyzer,
		workers:   cfg.Workers,
		lockTTL:   config.Seconds(cfg.LockTTLSeconds, 10*time.Minute),
		maxDocs:   cfg.MaxDocsPerLocation,
		logger:    logger.Component("ingestor"),
	}
	if in.workers <= 0 {
		in.workers = 4
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

var _ search.ExternalIngestor = (*Ingestor)(nil)

// Ingest 把 locationIDs 下的 PDF 导入 userID 的外部分区。
// 抓取或解析失败的文档跳过；向量化或写入失败时中止整批
func (in *Ingestor) Ingest(ctx context.Context, userID string, locationIDs []string, token *types.ExternalAuthToken) (*types.IngestReport, error) {
	if token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "ingest", "external auth token is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.New(apperr.KindInternal, "ingest", "user id is required")
	}

	ctx, span := ingestTracer.Start(ctx, "Ingestor.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("ingest.locations", len(locationIDs)))
	l := in.logger.With().Str("user_id", tracing.MaskPII(userID)).Logger()

	report := &types.IngestReport{}
	release, acquired := in.lock(ctx, userID, &l)
	if !acquired {
		report.LockSkipped = true
		l.Info().Msg("其他导入正在进行，跳过本次导入")
		return report, nil
	}
	defer release()

	docs, err := in.list(ctx, locationIDs, token)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, err
	}
	report.Listed = len(docs)

	var mu sync.Mutex
	count := func(outcome string) {
		mu.Lock()
		switch outcome {
		case OutcomeIndexed:
			report.Indexed++
		case OutcomeSkippedExists:
			report.SkippedExists++
		case OutcomeSkippedFailed:
			report.SkippedFailed++
		}
		mu.Unlock()
		if in.recorder != nil {
			in.recorder.ObserveIngestedDocument(outcome)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			outcome, err := in.ingestOne(gctx, userID, doc, token, &l)
			if err != nil {
				return err
			}
			count(outcome)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		l.Error().Err(err).Int("indexed", report.Indexed).Msg("导入中止")
		return report, err
	}

	span.SetAttributes(attribute.Int("ingest.indexed", report.Indexed), attribute.Int("ingest.skipped_failed", report.SkippedFailed))
	l.Info().Int("listed", report.Listed).Int("indexed", report.Indexed).
		Int("skipped_exists", report.SkippedExists).Int("skipped_failed", report.SkippedFailed).Msg("外部文档导入完成")
	return report, nil
}

// lock 获取用户锁。Redis 出错时不加锁继续；返回 false 表示锁被他人持有
func (in *Ingestor) lock(ctx context.Context, userID string, l *zerolog.Logger) (func(), bool) {
	noop := func() {}
	if in.locker == nil {
		return noop, true
	}
	key := fmt.Sprintf(constants.KeyIngestLock, userID)
	value, err := in.locker.AcquireLock(ctx, key, in.lockTTL)
	if err != nil {
		l.Warn().Err(err).Msg("获取导入锁失败，继续无锁导入")
		return noop, true
	}
	if value == "" {
		return noop, false
	}
	return func() {
		if _, err := in.locker.ReleaseLock(context.WithoutCancel(ctx), key, value); err != nil {
			l.Warn().Err(err).Msg("释放导入锁失败")
		}
	}, true
}

// list 列出所有位置下的 PDF，按文档 ID 去重
func (in *Ingestor) list(ctx context.Context, locationIDs []string, token *types.ExternalAuthToken) ([]Document, error) {
	seen := map[string]bool{}
	var out []Document
	for _, loc := range locationIDs {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		docs, err := in.source.List(ctx, loc, token)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				err = apperr.Wrap(apperr.KindExternalSourceUnavailable, "list_documents", err)
			}
			return nil, err
		}
		n := 0
		for _, d := range docs {
			if !IsPDF(d) || d.ID == "" || seen[d.ID] {
				continue
			}
			if in.maxDocs > 0 && n >= in.maxDocs {
				break
			}
			seen[d.ID] = true
			out = append(out, d)
			n++
		}
	}
	return out, nil
}

func (in *Ingestor) ingestOne(ctx context.Context, userID string, doc Document, token *types.ExternalAuthToken, l *zerolog.Logger) (string, error) {
	dl := l.With().Str("doc_id", doc.ID).Logger()

	exists, err := in.store.Exists(ctx, types.PartitionExternal, userID, doc.ID)
	if err != nil {
		return "", err
	}
	if exists {
		return OutcomeSkippedExists, nil
	}

	data, err := in.source.Fetch(ctx, doc, token)
	if err != nil {
		dl.Warn().Err(err).Msg("下载文档失败，跳过")
		return OutcomeSkippedFailed, nil
	}
	text, err := in.extractor.ExtractText(ctx, data, doc.Name)
	if err != nil {
		dl.Warn().Err(err).Msg("提取文本失败，跳过")
		return OutcomeSkippedFailed, nil
	}
	if strings.TrimSpace(text) == "" {
		dl.Warn().Msg("文档没有可提取的文本，跳过")
		return OutcomeSkippedFailed, nil
	}

	record := BuildRecord(doc, text, userID)
	vector, err := in.embedder.Embed(ctx, text)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindEmbedding, "embed_document", err)
		}
		return "", err
	}
	written, err := in.store.Upsert(ctx, types.PartitionExternal, record, vector)
	if err != nil {
		return "", err
	}
	if !written {
		return OutcomeSkippedExists, nil
	}
	dl.Debug().Int("text_len", len(text)).Msg("文档已导入")
	return OutcomeIndexed, nil
}

// IngestAndQuery 导入后检索该用户的外部分区，并做一次分析
func (in *Ingestor) IngestAndQuery(ctx context.Context, q types.ExternalQuery) (*types.SearchOutcome, error) {
	if _, err := in.Ingest(ctx, q.UserID, q.LocationIDs, q.Token); err != nil {
		return nil, err
	}

	ctx, span := ingestTracer.Start(ctx, "Ingestor.Query")
	defer span.End()

	vector, err := in.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}
	k := q.Limit
	if k <= 0 {
		k = config.DefaultResultLimit
	}
	records, err := in.store.Query(ctx, types.PartitionExternal, vector, k, storage.Filter{UserID: q.UserID})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("ingest.query_hits", len(records)))
	return in.analyzer.Analyze(ctx, q.Query, records)
}
