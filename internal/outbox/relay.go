// Package outbox 轮询 outbox_messages 表，把检索完成事件投递到 RabbitMQ
package outbox

import (
	"context"
	"sync"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/storage"
	"talent-search/internal/storage/models"
	"talent-search/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	defaultMaxRetries      = 5
)

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	db              *gorm.DB
	publisher       storage.Publisher
	logger          *zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	done            chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	tracer          trace.Tracer
}

// NewMessageRelay 按 outbox 配置创建中继
func NewMessageRelay(db *gorm.DB, publisher storage.Publisher, cfg config.OutboxConfig) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger.Component("outbox_relay"),
		pollingInterval: config.Seconds(cfg.PollingIntervalSeconds, defaultPollingInterval),
		batchSize:       cfg.BatchSize,
		maxRetries:      cfg.MaxRetries,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("talent-search/outbox"),
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	return r
}

// Start 在后台开始轮询
func (r *MessageRelay) Start() {
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch_size", r.batchSize).Msg("MessageRelay starting")
	ticker := time.NewTicker(r.pollingInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				r.logger.Info().Msg("MessageRelay stopped")
				return
			case <-ticker.C:
				if _, err := r.ProcessPendingMessages(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("处理 outbox 消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束
func (r *MessageRelay) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// ProcessPendingMessages 处理一批待发送消息，返回本批处理的条数。
// FOR UPDATE SKIP LOCKED 让多个实例可以并行轮询而不重复投递
func (r *MessageRelay) ProcessPendingMessages(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}

	// 空轮询不创建 span
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	for i := range messages {
		msg := &messages[i]
		pubErr := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if pubErr != nil {
			r.logger.Warn().Err(pubErr).Uint64("id", msg.ID).Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount+1).Msg("outbox 消息发布失败")
			tracing.RecordRabbitMQNack(span, msg.AggregateID, pubErr.Error())
		}
		ApplyPublishResult(msg, pubErr, r.maxRetries, time.Now())

		if err := tx.Save(msg).Error; err != nil {
			// 整个事务回滚，消息保持原状态，下一轮重新拾取
			return 0, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	r.logger.Debug().Int("count", len(messages)).Msg("outbox 批次处理完成")
	return len(messages), nil
}

// ApplyPublishResult 根据发布结果更新消息状态：成功为 SENT；失败累加重试次数，达到上限后为 FAILED
func ApplyPublishResult(msg *models.OutboxMessage, pubErr error, maxRetries int, now time.Time) {
	if pubErr == nil {
		msg.Status = models.OutboxStatusSent
		msg.ProcessedAt = &now
		msg.ErrorMessage = ""
		return
	}
	msg.RetryCount++
	msg.ErrorMessage = tracing.TruncateString(pubErr.Error(), 1000)
	if msg.RetryCount >= maxRetries {
		msg.Status = models.OutboxStatusFailed
		msg.ProcessedAt = &now
	}
}
