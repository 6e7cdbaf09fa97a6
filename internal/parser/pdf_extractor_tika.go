package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talent-search/internal/logger"
	"talent-search/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// TikaTextExtractor 是基于 Apache Tika 服务的文本提取器，适合扫描件等 Eino 解析不了的 PDF
type TikaTextExtractor struct {
	// Tika服务器地址，例如 http://localhost:9998
	serverURL string
	client    *http.Client
	// 是否提取链接注释文本
	extractAnnotations bool
	logger             *zerolog.Logger
}

var _ TextExtractor = (*TikaTextExtractor)(nil)

// TikaOption 定义配置选项函数
type TikaOption func(*TikaTextExtractor)

// WithAnnotations 配置是否提取PDF链接注释文本
func WithAnnotations(extract bool) TikaOption {
	return func(e *TikaTextExtractor) {
		e.extractAnnotations = extract
	}
}

// WithTikaLogger 配置自定义日志记录器
func WithTikaLogger(l *zerolog.Logger) TikaOption {
	return func(e *TikaTextExtractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaTextExtractor) {
		if timeout > 0 {
			e.client.Timeout = timeout
		}
	}
}

// WithTikaHTTPClient 替换 HTTP 客户端（测试时指向 httptest）
func WithTikaHTTPClient(c *http.Client) TikaOption {
	return func(e *TikaTextExtractor) {
		if c != nil {
			e.client = c
		}
	}
}

// NewTikaTextExtractor 创建一个新的Tika提取器
func NewTikaTextExtractor(serverURL string, options ...TikaOption) (*TikaTextExtractor, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("tika server url is empty")
	}
	e := &TikaTextExtractor{
		serverURL:          strings.TrimRight(serverURL, "/"),
		client:             &http.Client{Timeout: 60 * time.Second},
		extractAnnotations: true,
		logger:             logger.Component("tika_extractor"),
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// ExtractText PUT /tika，返回纯文本
func (e *TikaTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	ctx, span := otel.Tracer("talent-search/parser").Start(ctx, "Tika.ExtractText")
	defer span.End()
	span.SetAttributes(attribute.Int("document.size_bytes", len(data)))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "text/plain")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}
	if !e.extractAnnotations {
		req.Header.Set("X-Tika-PDFExtractAnnotationText", "false")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return "", err
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}
	text := strings.TrimSpace(string(textBytes))
	e.logger.Debug().Int("text_len", len(text)).Dur("took", time.Since(start)).Msg("Tika 文本提取完成")
	return text, nil
}
