// Package ratelimit 按调用方 (principal) 限流。
// 有 Redis 时使用固定窗口计数，多实例共享额度；否则退化为进程内令牌桶
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter 判断 principal 的本次请求是否放行
type Limiter interface {
	Allow(ctx context.Context, principal string) bool
}

// WindowCounter 由 *storage.Redis 实现
type WindowCounter interface {
	IncrWindow(ctx context.Context, principal string, now time.Time) (int64, error)
}

// PrincipalLimiter 进程内的每 principal 令牌桶
type PrincipalLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	every  rate.Limit
	burst  int
}

// NewPrincipalLimiter 每分钟 perMinute 次，允许一次性用满
func NewPrincipalLimiter(perMinute int) *PrincipalLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &PrincipalLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  rate.Every(time.Minute / time.Duration(perMinute)),
		burst:  perMinute,
	}
}

func (l *PrincipalLimiter) getLimiter(principal string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limits[principal]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.every, l.burst)
	l.limits[principal] = lim
	return lim
}

// Allow 消耗一个令牌
func (l *PrincipalLimiter) Allow(_ context.Context, principal string) bool {
	return l.getLimiter(principal).Allow()
}

// WindowLimiter Redis 固定窗口限流。计数失败时交给 fallback 判断
type WindowLimiter struct {
	counter   WindowCounter
	perMinute int64
	fallback  Limiter
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewWindowLimiter fallback 为 nil 时 Redis 故障直接放行
func NewWindowLimiter(counter WindowCounter, perMinute int, fallback Limiter, logger *zerolog.Logger) *WindowLimiter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WindowLimiter{
		counter:   counter,
		perMinute: int64(perMinute),
		fallback:  fallback,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow 当前窗口计数不超过额度即放行
func (l *WindowLimiter) Allow(ctx context.Context, principal string) bool {
	n, err := l.counter.IncrWindow(ctx, principal, l.now())
	if err != nil {
		l.logger.Warn().Err(err).Msg("限流计数失败，使用进程内限流")
		if l.fallback == nil {
			return true
		}
		return l.fallback.Allow(ctx, principal)
	}
	return n <= l.perMinute
}
