package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// IngestModulePrefix 外部文档导入模块
	IngestModulePrefix = "ingest"
	// EmbeddingModulePrefix 向量化模块
	EmbeddingModulePrefix = "embedding"
	// RateLimitModulePrefix 接口限流模块
	RateLimitModulePrefix = "ratelimit"

	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityVector 向量实体
	EntityVector = "vector"
	// EntityWindow 固定时间窗口计数
	EntityWindow = "window"

	// KeyIngestLock 每个用户同一时间只允许一次导入 (STRING)
	// 格式: app:ingest:lock:{userID}
	KeyIngestLock = AppPrefix + ":" + IngestModulePrefix + ":" + EntityLock + ":%s"

	// KeyEmbeddingVector 查询向量缓存 (STRING, JSON)
	// 格式: app:embedding:vector:{sha1(model|text)}
	KeyEmbeddingVector = AppPrefix + ":" + EmbeddingModulePrefix + ":" + EntityVector + ":%s"

	// KeyRateLimitWindow 每个 principal 每分钟的请求计数 (STRING, INCR)
	// 格式: app:ratelimit:window:{principal}:{unixMinute}
	KeyRateLimitWindow = AppPrefix + ":" + RateLimitModulePrefix + ":" + EntityWindow + ":%s:%d"

	// RateLimitWindow 限流窗口长度
	RateLimitWindow = time.Minute
)
