package router

import (
	"net/http"

	"talent-search/internal/api/handler"
	"talent-search/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/obs-opentelemetry/tracing"
)

// Deps 路由依赖。Limiter、RateLimited、Metrics 可以为 nil
type Deps struct {
	Search      *handler.SearchHandler
	Health      *handler.HealthHandler
	APIKeys     map[string]string
	Limiter     ratelimit.Limiter
	RateLimited RateLimitRecorder
	Metrics     http.Handler
}

// NewServer 创建 hertz 服务器并挂上链路追踪、panic 恢复与访问日志
func NewServer(address string, opts ...hertzconfig.Option) *server.Hertz {
	tracer, tracerCfg := tracing.NewServerTracer()
	opts = append([]hertzconfig.Option{
		server.WithHostPorts(address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	}, opts...)
	h := server.New(opts...)
	h.Use(Recovery(), tracing.ServerMiddleware(tracerCfg), AccessLog())
	return h
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, d Deps) {
	h.GET("/", d.Health.HandleHealth)
	if d.Metrics != nil {
		h.GET("/metrics", adaptor.HertzHandler(d.Metrics))
	}

	api := h.Group("/api/v1")
	api.GET("/health", d.Health.HandleHealth)
	api.POST("/search_candidates",
		APIKeyAuth(d.APIKeys),
		RateLimit(d.Limiter, d.RateLimited),
		d.Search.HandleSearchCandidates,
	)
}
