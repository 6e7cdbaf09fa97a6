package router

import (
	"context"
	"errors"
	"time"

	"talent-search/internal/api/handler"
	"talent-search/internal/apperr"
	"talent-search/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/middlewares/server/recovery"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

var errUnknownAPIKey = errors.New("unknown api key")

// RateLimitRecorder 由 *metrics.Exporter 实现
type RateLimitRecorder interface {
	RecordRateLimited()
}

// APIKeyAuth 校验 Authorization: Bearer <key>，通过后把 principal 写入上下文
func APIKeyAuth(keys map[string]string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			principal, ok := keys[key]
			if !ok || principal == "" {
				return false, errUnknownAPIKey
			}
			c.Set(handler.PrincipalKey, principal)
			return true, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			hlog.CtxDebugf(ctx, "api key rejected: %v", err)
			c.AbortWithStatusJSON(consts.StatusUnauthorized,
				handler.ErrorEnvelope(apperr.KindMissingCredential, "a valid API key is required"))
		}),
	)
}

// RateLimit 按 principal 限流；limiter 为 nil 时不限流
func RateLimit(limiter ratelimit.Limiter, recorder RateLimitRecorder) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if limiter == nil {
			c.Next(ctx)
			return
		}
		principal := c.GetString(handler.PrincipalKey)
		if !limiter.Allow(ctx, principal) {
			if recorder != nil {
				recorder.RecordRateLimited()
			}
			c.AbortWithStatusJSON(consts.StatusTooManyRequests,
				handler.ErrorEnvelope(apperr.KindRateLimited, ""))
			return
		}
		c.Next(ctx)
	}
}

// AccessLog 请求日志
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s -> %d (%s)", c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start))
	}
}

// Recovery panic 转为 500 统一信封
func Recovery() app.HandlerFunc {
	return recovery.Recovery(recovery.WithRecoveryHandler(
		func(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte) {
			hlog.CtxErrorf(ctx, "[Recovery] panic recovered: %v\n%s", err, stack)
			c.AbortWithStatusJSON(consts.StatusInternalServerError,
				handler.ErrorEnvelope(apperr.KindInternal, ""))
		}))
}
