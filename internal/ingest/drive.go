package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"talent-search/internal/apperr"
	"talent-search/internal/logger"
	"talent-search/internal/tracing"
	"talent-search/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

var ingestTracer = otel.Tracer("talent-search/ingest")

// DefaultDriveBaseURL Drive v3 REST 地址
const DefaultDriveBaseURL = "https://www.googleapis.com/drive/v3"

const (
	drivePageSize    = 100
	maxDrivePages    = 50
	maxDocumentBytes = 32 << 20
)

// DriveSource Google Drive 文件夹。location id 是文件夹 ID，凭据来自请求
type DriveSource struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxDocs    int
	logger     *zerolog.Logger
}

// DriveOption Drive 选项
type DriveOption func(*DriveSource)

// WithDriveBaseURL 替换 API 地址（测试或代理）
func WithDriveBaseURL(u string) DriveOption {
	return func(d *DriveSource) {
		if u != "" {
			d.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithDriveHTTPClient 底层 HTTP 客户端，oauth2 传输层包在它外面
func WithDriveHTTPClient(c *http.Client) DriveOption {
	return func(d *DriveSource) {
		if c != nil {
			d.httpClient = c
		}
	}
}

// WithDriveTimeout 单次请求超时
func WithDriveTimeout(t time.Duration) DriveOption {
	return func(d *DriveSource) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDriveMaxDocs 每个文件夹最多列出的文件数，<=0 不限制
func WithDriveMaxDocs(n int) DriveOption {
	return func(d *DriveSource) {
		d.maxDocs = n
	}
}

// NewDriveSource 创建 Drive 文档源
func NewDriveSource(opts ...DriveOption) *DriveSource {
	d := &DriveSource{
		baseURL:    DefaultDriveBaseURL,
		httpClient: http.DefaultClient,
		timeout:    30 * time.Second,
		logger:     logger.Component("drive_source"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ DocumentSource = (*DriveSource)(nil)

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink"`
}

type driveFileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// client 每次请求用调用方的令牌构造 oauth2 客户端
func (d *DriveSource) client(ctx context.Context, token *types.ExternalAuthToken) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
	}))
}

// List 列出文件夹下未删除的 PDF，自动翻页。
// 达到 maxDocs、翻页上限或 nextPageToken 重复时停止
func (d *DriveSource) List(ctx context.Context, folderID string, token *types.ExternalAuthToken) ([]Document, error) {
	if token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "drive_list", "access token is required")
	}
	ctx, span := ingestTracer.Start(ctx, "DriveSource.List", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("drive.folder_id", folderID))

	client := d.client(ctx, token)
	q := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", strings.ReplaceAll(folderID, "'", `\'`), MimePDF)

	var (
		docs      []Document
		pageToken string
		pages     int
		seen      = map[string]bool{}
	)
	for {
		pageSize := drivePageSize
		if d.maxDocs > 0 && d.maxDocs-len(docs) < pageSize {
			pageSize = d.maxDocs - len(docs)
		}
		params := url.Values{}
		params.Set("q", q)
		params.Set("fields", "nextPageToken,files(id,name,mimeType,webViewLink)")
		params.Set("pageSize", fmt.Sprint(pageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page driveFileList
		if err := d.getJSON(ctx, client, d.baseURL+"/files?"+params.Encode(), &page); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
			return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "drive_list", err)
		}
		pages++
		for _, f := range page.Files {
			if d.maxDocs > 0 && len(docs) >= d.maxDocs {
				break
			}
			docs = append(docs, Document{ID: f.ID, Name: f.Name, MimeType: f.MimeType, WebLink: f.WebViewLink})
		}

		next := page.NextPageToken
		if next == "" || (d.maxDocs > 0 && len(docs) >= d.maxDocs) {
			break
		}
		if seen[next] || pages >= maxDrivePages {
			d.logger.Warn().Str("folder_id", folderID).Int("pages", pages).Bool("repeated_token", seen[next]).
				Msg("Drive 翻页提前终止")
			span.AddEvent("pagination_stopped")
			break
		}
		seen[next] = true
		pageToken = next
	}

	span.SetAttributes(attribute.Int("drive.pages", pages), attribute.Int("drive.files", len(docs)))
	d.logger.Debug().Str("folder_id", folderID).Int("pages", pages).Int("files", len(docs)).Msg("Drive 文件夹列举完成")
	return docs, nil
}

// Fetch 下载文件内容
func (d *DriveSource) Fetch(ctx context.Context, doc Document, token *types.ExternalAuthToken) ([]byte, error) {
	if token.Empty() {
		return nil, apperr.New(apperr.KindMissingCredential, "drive_fetch", "access token is required")
	}
	ctx, span := ingestTracer.Start(ctx, "DriveSource.Fetch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("drive.file_id", doc.ID))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/files/"+url.PathEscape(doc.ID)+"?alt=media", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client(ctx, token).Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "drive_fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("drive returned status %d", resp.StatusCode)
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "drive_fetch", err)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalSourceUnavailable, "drive_fetch", err)
	}
	span.SetAttributes(attribute.Int("drive.bytes", len(data)))
	return data, nil
}

func (d *DriveSource) getJSON(ctx context.Context, client *http.Client, u string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("drive returned status %d: %s", resp.StatusCode, tracing.TruncateString(string(body), 200))
	}
	return json.Unmarshal(body, out)
}
