package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"talent-search/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

// TextExtractor 从文档字节中提取纯文本
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// EinoPDFTextExtractor 使用 Eino PDF Parser 提取文本
type EinoPDFTextExtractor struct {
	parser  einoParser.Parser
	logger  *zerolog.Logger
	timeout time.Duration
}

var _ TextExtractor = (*EinoPDFTextExtractor)(nil)

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFTextExtractor)

// WithEinoLogger 配置自定义日志记录器
func WithEinoLogger(l *zerolog.Logger) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.logger = l
	}
}

// WithExtractTimeout 单个文档的解析超时
func WithExtractTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithParser 替换底层 parser（测试用）
func WithParser(p einoParser.Parser) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.parser = p
	}
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器
// 不按页面分割，获取整个文档的连续文本
func NewEinoPDFTextExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFTextExtractor, error) {
	extractor := &EinoPDFTextExtractor{
		logger:  logger.Component("pdf_extractor"),
		timeout: 30 * time.Second,
	}
	for _, option := range options {
		option(extractor)
	}

	if extractor.parser == nil {
		p, err := pdf.NewPDFParser(ctx, &pdf.Config{
			ToPages: false,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
		}
		extractor.parser = p
	}
	return extractor, nil
}

// ExtractText 从字节中提取文本
func (e *EinoPDFTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty document %s", uri)
	}
	return e.ExtractTextFromReader(ctx, bytes.NewReader(data), uri)
}

// ExtractTextFromReader 从 io.Reader 中提取文本，多个文档时按顺序拼接
func (e *EinoPDFTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string) (string, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{
			"extraction_time": startTime.Format(time.RFC3339),
		}),
	)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Dur("elapsed", time.Since(startTime)).Msg("PDF解析失败")
		return "", fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF parser returned no documents for URI %s", uri)
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	text := strings.TrimSpace(sb.String())

	e.logger.Debug().Str("uri", uri).Int("chars", len(text)).Int("docs", len(docs)).
		Dur("elapsed", time.Since(startTime)).Msg("PDF提取完成")
	return text, nil
}
