package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/constants"
	"talent-search/internal/tracing"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

// ErrLockHeld 锁已被其他持有者占用
var ErrLockHeld = errors.New("lock is held by another owner")

var redisTracer = otel.Tracer("talent-search/storage/redis")

// Redis key 前缀采样率
var redisKeySamplingRates = map[string]float64{
	constants.AppPrefix + ":" + constants.IngestModulePrefix + ":":    0.5,
	constants.AppPrefix + ":" + constants.EmbeddingModulePrefix + ":": 0.05,
	constants.AppPrefix + ":" + constants.RateLimitModulePrefix + ":": 0.01,
}

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return randFloat() < rate
		}
	}
	return randFloat() < 0.05
}

func randFloat() float64 {
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64()
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  config.Seconds(cfg.DialTimeoutSeconds, 5*time.Second),
		ReadTimeout:  config.Seconds(cfg.ReadTimeoutSeconds, 3*time.Second),
		WriteTimeout: config.Seconds(cfg.WriteTimeoutSeconds, 3*time.Second),

		MaxRetries: cfg.MaxRetries,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

func startRedisSpan(ctx context.Context, name, op, key string) (context.Context, trace.Span) {
	if !shouldSampleRedisOp(key) {
		return ctx, nil
	}
	ctx, span := redisTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		// 避免与redisotel hook产生的span重复
		attribute.Bool("otel.propagate_to_child", false),
	)
	return ctx, span
}

func endRedisSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// GetVector 读取缓存的查询向量，key 由调用方格式化
func (r *Redis) GetVector(ctx context.Context, key string) ([]float64, bool, error) {
	if r.Client == nil {
		return nil, false, fmt.Errorf("redis client is not initialized")
	}
	ctx, span := startRedisSpan(ctx, "Redis.GetVector", "GET", key)

	raw, err := r.Client.Get(ctx, key).Bytes()
	endRedisSpan(span, err)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vector []float64
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return vector, true, nil
}

// SetVector 缓存查询向量
func (r *Redis) SetVector(ctx context.Context, key string, vector []float64, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}
	ctx, span := startRedisSpan(ctx, "Redis.SetVector", "SET", key)
	err = r.Client.Set(ctx, key, payload, ttl).Err()
	endRedisSpan(span, err)
	return err
}

// AcquireLock 获取分布式锁。锁被占用时返回空字符串和 nil 错误
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.Must(uuid.NewV4()).String()

	ctx, span := startRedisSpan(ctx, "Redis.AcquireLock", "SETNX", lockKey)
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	endRedisSpan(span, err)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ReleaseLock 释放一个分布式锁，使用Lua脚本保证只删除自己持有的锁
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// IncrWindow 对 principal 当前分钟窗口计数加一，返回窗口内的累计次数。
// 每次都刷新过期时间；不用 EXPIRE NX，它要求 Redis 7
func (r *Redis) IncrWindow(ctx context.Context, principal string, now time.Time) (int64, error) {
	if r.Client == nil {
		return 0, fmt.Errorf("redis client is not initialized")
	}
	window := now.Unix() / int64(constants.RateLimitWindow/time.Second)
	key := fmt.Sprintf(constants.KeyRateLimitWindow, principal, window)

	ctx, span := startRedisSpan(ctx, "Redis.IncrWindow", "INCR", key)
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*constants.RateLimitWindow)
	_, err := pipe.Exec(ctx)
	endRedisSpan(span, err)
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
