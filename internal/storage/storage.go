package storage

import (
	"context"
	"fmt"

	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/types"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 向量数据库，两个分区
	Primary  *Qdrant
	External *Qdrant
	Resumes  *ResumeStore

	// 键值存储：限流、导入锁、查询向量缓存
	Redis *Redis

	// 检索审计 + outbox
	MySQL *MySQL

	// 消息队列
	RabbitMQ *RabbitMQ

	// 对象存储，ingest.provider=minio 时使用
	MinIO *MinIO
}

// NewStorage 创建存储管理器。Qdrant 主分区是必需的，其余组件按配置可选，
// 初始化失败时记录警告并降级
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	log := logger.Component("storage")
	s := &Storage{}
	var err error

	s.Primary, err = NewQdrant(ctx, &cfg.Qdrant, cfg.Qdrant.PrimaryCollection, PartitionOptions(&cfg.Qdrant, types.PartitionPrimary)...)
	if err != nil {
		return nil, fmt.Errorf("初始化Qdrant主分区失败: %w", err)
	}
	if cfg.Qdrant.ExternalCollection != "" {
		s.External, err = NewQdrant(ctx, &cfg.Qdrant, cfg.Qdrant.ExternalCollection, PartitionOptions(&cfg.Qdrant, types.PartitionExternal)...)
		if err != nil {
			return nil, fmt.Errorf("初始化Qdrant外部分区失败: %w", err)
		}
	}
	// 避免 typed nil 进入接口
	var external VectorIndex
	if s.External != nil {
		external = s.External
	}
	s.Resumes = NewResumeStore(s.Primary, external)

	if cfg.Redis.Address != "" {
		if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
			log.Warn().Err(err).Msg("初始化Redis失败，限流退化为进程内实现，导入锁与向量缓存关闭")
			s.Redis = nil
		}
	}

	if cfg.MySQL.Host != "" {
		if s.MySQL, err = NewMySQL(&cfg.MySQL); err != nil {
			log.Warn().Err(err).Msg("初始化MySQL失败，检索审计关闭")
			s.MySQL = nil
		}
	}

	if cfg.RabbitMQ.URL != "" {
		if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ); err != nil {
			log.Warn().Err(err).Msg("初始化RabbitMQ失败，outbox 中继关闭")
			s.RabbitMQ = nil
		}
	}

	if cfg.Ingest.Provider == config.IngestProviderMinIO {
		if s.MinIO, err = NewMinIO(&cfg.MinIO); err != nil {
			return nil, fmt.Errorf("初始化MinIO失败: %w", err)
		}
	}

	return s, nil
}

// PartitionOptions 分区集合共用的选项：距离度量、过滤字段索引和带分区字段的日志
func PartitionOptions(cfg *config.QdrantConfig, partition types.Partition) []QdrantOption {
	l := logger.Component("qdrant").With().Str("partition", string(partition)).Logger()
	return []QdrantOption{
		WithDistanceMetric(cfg.Distance),
		WithPayloadIndexes(FilterableFields...),
		WithQdrantLogger(&l),
	}
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
