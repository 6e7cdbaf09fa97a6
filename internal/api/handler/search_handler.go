package handler

import (
	"context"
	"encoding/json"

	"talent-search/internal/apperr"
	"talent-search/internal/logger"
	"talent-search/internal/search"
	"talent-search/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PrincipalKey 认证中间件写入 RequestContext 的调用方标识
const PrincipalKey = "principal"

// RequestIDHeader 请求头中的请求 ID，缺省时生成
const RequestIDHeader = "X-Request-ID"

// Searcher 由 *search.SourceRouter 实现
type Searcher interface {
	Handle(ctx context.Context, req types.SearchRequest, userID string) types.SearchResponse
}

var _ Searcher = (*search.SourceRouter)(nil)

// SearchHandler 处理候选人检索请求
type SearchHandler struct {
	searcher Searcher
	logger   *zerolog.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		logger:   logger.Component("search_handler"),
	}
}

// HandleSearchCandidates POST /api/v1/search_candidates
func (h *SearchHandler) HandleSearchCandidates(ctx context.Context, c *app.RequestContext) {
	requestID := string(c.GetHeader(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(RequestIDHeader, requestID)
	ctx = search.WithRequestID(ctx, requestID)

	var req types.SearchRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		h.logger.Debug().Err(err).Str("request_id", requestID).Msg("请求体解析失败")
		c.JSON(consts.StatusBadRequest, ErrorEnvelope(apperr.KindInvalidRequest, "request body must be a JSON object"))
		return
	}

	principal := c.GetString(PrincipalKey)
	resp := h.searcher.Handle(ctx, req, principal)
	c.JSON(StatusFor(resp), resp)
}

// StatusFor 把响应信封映射为 HTTP 状态码
func StatusFor(resp types.SearchResponse) int {
	if resp.Status == types.StatusSuccess {
		return consts.StatusOK
	}
	switch apperr.Kind(resp.Kind) {
	case apperr.KindInvalidSource, apperr.KindInvalidToolInput, apperr.KindInvalidRequest:
		return consts.StatusBadRequest
	case apperr.KindMissingCredential:
		return consts.StatusUnauthorized
	case apperr.KindRateLimited:
		return consts.StatusTooManyRequests
	case apperr.KindMalformedAnalysisJSON, apperr.KindUnexpectedModelStop, apperr.KindUnsupportedTool:
		return consts.StatusBadGateway
	case apperr.KindEmbedding, apperr.KindStoreUnavailable, apperr.KindModelUnavailable, apperr.KindExternalSourceUnavailable:
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

// ErrorEnvelope 中间件拒绝请求时使用的统一信封，message 为空时取该分类的对外消息
func ErrorEnvelope(kind apperr.Kind, message string) types.SearchResponse {
	if message == "" {
		message = apperr.PublicMessage(apperr.New(kind, "", ""))
	}
	return types.SearchResponse{Status: types.StatusError, Kind: string(kind), Message: message}
}
