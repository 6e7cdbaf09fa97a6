package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"talent-search/internal/audit"
	"talent-search/internal/config"
	"talent-search/internal/ingest"
	"talent-search/internal/logger"
	"talent-search/internal/metrics"
	"talent-search/internal/parser"
	"talent-search/internal/search"
	"talent-search/internal/storage"
	"talent-search/internal/tracing"
	"talent-search/internal/types"
	"talent-search/pkg/agent"

	"github.com/rs/zerolog"
)

// components 各子命令共用的依赖图
type components struct {
	cfg      *config.Config
	storage  *storage.Storage
	embedder *parser.OpenAIEmbedder
	exporter *metrics.Exporter
	router   *search.SourceRouter

	closers []func(ctx context.Context) error
}

// loadConfigAndLogger 读取配置并初始化日志，返回日志文件句柄（可能为 nil）
func loadConfigAndLogger() (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	closer, err := logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Server.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, closer, nil
}

// newEmbedder 有 Redis 且配置了 TTL 时启用查询向量缓存
func newEmbedder(cfg *config.Config, st *storage.Storage) (*parser.OpenAIEmbedder, error) {
	opts := []parser.EmbedderOption{parser.WithEmbedderLogger(logger.Component("embedder"))}
	if st.Redis != nil && cfg.Embedding.CacheTTLMinutes > 0 {
		opts = append(opts, parser.WithVectorCache(st.Redis, time.Duration(cfg.Embedding.CacheTTLMinutes)*time.Minute))
	}
	return parser.NewOpenAIEmbedder(cfg.Embedding, opts...)
}

// buildComponents 按配置组装检索链路。可选组件缺失时降级而不是失败
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg}
	log := logger.Component("wire")

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version,
			SampleRatio: cfg.Tracing.SampleRatio,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("链路追踪初始化失败，继续运行")
		} else {
			c.closers = append(c.closers, shutdown)
		}
	}

	st, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	c.storage = st
	c.closers = append(c.closers, func(context.Context) error { st.Close(); return nil })

	c.embedder, err = newEmbedder(cfg, st)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("初始化 embedder 失败: %w", err)
	}

	chatModel, err := agent.NewOpenAIChatModel(agent.ChatModelConfig{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger.Component("chat_model"),
	})
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("初始化对话模型失败: %w", err)
	}

	c.exporter = metrics.NewExporter(metrics.DefaultConfig())
	orchestrator := search.NewOrchestratorFromConfig(chatModel, cfg.LLM)
	analyzer := search.NewAnalyzer(chatModel, cfg.LLM, cfg.Search)

	observers := []search.Observer{c.exporter}
	if st.MySQL != nil {
		observers = append(observers, audit.NewObserver(st.MySQL, cfg.RabbitMQ))
	}
	routerOpts := []search.RouterOption{search.WithObservers(observers...)}

	if st.Resumes.HasPartition(types.PartitionExternal) {
		ingestor, err := buildIngestor(ctx, cfg, st, c.embedder, analyzer, c.exporter, log)
		if err != nil {
			log.Warn().Err(err).Msg("外部文档导入不可用")
		} else {
			routerOpts = append(routerOpts, search.WithIngestor(ingestor))
		}
	} else {
		log.Warn().Msg("外部分区未配置，ExternalStore 与 Both 将返回 ExternalSourceUnavailable")
	}

	c.router = search.NewSourceRouter(orchestrator, st.Resumes, c.embedder, cfg.Search, routerOpts...)
	return c, nil
}

func buildIngestor(ctx context.Context, cfg *config.Config, st *storage.Storage, embedder *parser.OpenAIEmbedder,
	analyzer *search.Analyzer, exporter *metrics.Exporter, log *zerolog.Logger) (*ingest.Ingestor, error) {
	var source ingest.DocumentSource
	switch cfg.Ingest.Provider {
	case config.IngestProviderMinIO:
		if st.MinIO == nil {
			return nil, fmt.Errorf("ingest.provider=minio 但 MinIO 未初始化")
		}
		source = ingest.NewObjectStoreSource(st.MinIO, cfg.Ingest.MaxDocsPerLocation,
			time.Duration(cfg.MinIO.PresignMinutes)*time.Minute)
	default:
		source = ingest.NewDriveSource(
			ingest.WithDriveBaseURL(cfg.Ingest.DriveBaseURL),
			ingest.WithDriveTimeout(config.Seconds(cfg.Ingest.FetchTimeoutSecs, 30*time.Second)),
			ingest.WithDriveMaxDocs(cfg.Ingest.MaxDocsPerLocation),
		)
	}

	extractor, err := newExtractor(ctx, cfg.Ingest)
	if err != nil {
		return nil, fmt.Errorf("创建 PDF 提取器失败: %w", err)
	}

	opts := []ingest.Option{ingest.WithRecorder(exporter)}
	if st.Redis != nil {
		opts = append(opts, ingest.WithLocker(st.Redis))
	}
	log.Info().Str("provider", cfg.Ingest.Provider).Str("extractor", cfg.Ingest.Extractor).Int("workers", cfg.Ingest.Workers).Msg("外部文档导入已启用")
	return ingest.NewIngestor(source, st.Resumes, embedder, extractor, analyzer, cfg.Ingest, opts...), nil
}

// newExtractor ingest.extractor=tika 时使用 Tika 服务，否则使用 Eino PDF 解析
func newExtractor(ctx context.Context, cfg config.IngestConfig) (parser.TextExtractor, error) {
	if cfg.Extractor == config.ExtractorTika {
		return parser.NewTikaTextExtractor(cfg.TikaURL,
			parser.WithTimeout(config.Seconds(cfg.FetchTimeoutSecs, 60*time.Second)),
			parser.WithTikaLogger(logger.Component("tika_extractor")))
	}
	return parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(logger.Component("pdf_extractor")))
}

// Close 逆序释放资源
func (c *components) Close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			logger.Warn().Err(err).Msg("释放资源失败")
		}
	}
	c.closers = nil
}
