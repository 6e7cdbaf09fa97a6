package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talent-search/internal/api/handler"
	"talent-search/internal/api/router"
	"talent-search/internal/logger"
	"talent-search/internal/outbox"
	"talent-search/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务、outbox 中继与链路追踪",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logCloser, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("组件初始化失败")
		return err
	}
	defer c.Close(context.Background())

	if cfg.Outbox.Enabled && c.storage.MySQL != nil && c.storage.RabbitMQ != nil {
		relay := outbox.NewMessageRelay(c.storage.MySQL.DB(), c.storage.RabbitMQ, cfg.Outbox)
		relay.Start()
		hlog.Info("消息中继服务已启动")
		// 先于存储关闭
		defer func() {
			relay.Stop()
			hlog.Info("消息中继服务已停止")
		}()
	}

	var limiter ratelimit.Limiter = ratelimit.NewPrincipalLimiter(cfg.Auth.RateLimitPerMinute)
	if c.storage.Redis != nil {
		limiter = ratelimit.NewWindowLimiter(c.storage.Redis, cfg.Auth.RateLimitPerMinute, limiter, logger.Component("ratelimit"))
	}
	if len(cfg.Auth.APIKeys) == 0 {
		hlog.Warn("auth.api_keys 为空，所有检索请求都将被拒绝")
	}

	h := router.NewServer(cfg.Server.Address)
	router.RegisterRoutes(h, router.Deps{
		Search:      handler.NewSearchHandler(c.router),
		Health:      handler.NewHealthHandler(c.storage.Resumes, version),
		APIKeys:     cfg.Auth.APIKeys,
		Limiter:     limiter,
		RateLimited: c.exporter,
		Metrics:     c.exporter.Handler(),
	})
	hlog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		hlog.Info("接收到终止信号，正在优雅退出...")
	case err := <-errCh:
		if err != nil {
			hlog.Errorf("HTTP 服务器异常退出: %v", err)
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		hlog.Errorf("服务器关闭失败: %v", err)
		return err
	}
	hlog.Info("优雅退出完成")
	return nil
}
