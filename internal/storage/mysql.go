package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/storage/models"
	"talent-search/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("talent-search/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type hook struct {
		name     string
		register func(string, func(*gorm.DB)) error
	}
	before := []hook{
		{"CREATE", func(n string, f func(*gorm.DB)) error { return cb.Create().Before("gorm:create").Register(n, f) }},
		{"SELECT", func(n string, f func(*gorm.DB)) error { return cb.Query().Before("gorm:query").Register(n, f) }},
		{"UPDATE", func(n string, f func(*gorm.DB)) error { return cb.Update().Before("gorm:update").Register(n, f) }},
		{"DELETE", func(n string, f func(*gorm.DB)) error { return cb.Delete().Before("gorm:delete").Register(n, f) }},
		{"ROW", func(n string, f func(*gorm.DB)) error { return cb.Row().Before("gorm:row").Register(n, f) }},
		{"RAW", func(n string, f func(*gorm.DB)) error { return cb.Raw().Before("gorm:raw").Register(n, f) }},
	}
	after := []hook{
		{"CREATE", func(n string, f func(*gorm.DB)) error { return cb.Create().After("gorm:create").Register(n, f) }},
		{"SELECT", func(n string, f func(*gorm.DB)) error { return cb.Query().After("gorm:query").Register(n, f) }},
		{"UPDATE", func(n string, f func(*gorm.DB)) error { return cb.Update().After("gorm:update").Register(n, f) }},
		{"DELETE", func(n string, f func(*gorm.DB)) error { return cb.Delete().After("gorm:delete").Register(n, f) }},
		{"ROW", func(n string, f func(*gorm.DB)) error { return cb.Row().After("gorm:row").Register(n, f) }},
		{"RAW", func(n string, f func(*gorm.DB)) error { return cb.Raw().After("gorm:raw").Register(n, f) }},
	}
	for _, h := range before {
		if err := h.register("otel:before_"+h.name, p.before(h.name)); err != nil {
			return err
		}
	}
	for _, h := range after {
		if err := h.register("otel:after_"+h.name, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		attrs := []attribute.KeyValue{
			semconv.DBSystemMySQL,
			attribute.String("db.name", p.dbName),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		}
		if stmt := db.Statement.SQL.String(); stmt != "" {
			attrs = append(attrs, attribute.String("db.statement", tracing.SafeSQL(stmt)))
		}

		newCtx, span := p.tracer.Start(ctx, operation+" "+table,
			trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.Context == nil {
			return
		}
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到记录属于正常业务情况
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// MySQL 保存检索审计日志和 outbox 消息
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移 search_logs / outbox_messages
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	case 4:
		return logger.Info
	default:
		return logger.Warn
	}
}

func (m *MySQL) autoMigrateSchema() error {
	silent := m.db.Session(&gorm.Session{Logger: m.db.Logger.LogMode(logger.Silent)})
	if err := silent.AutoMigrate(&models.SearchLog{}, &models.OutboxMessage{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// RecordSearch 在同一事务里写入审计日志和 search.completed outbox 消息。
// exchange 为空时只写审计日志
func (m *MySQL) RecordSearch(ctx context.Context, entry *models.SearchLog, exchange, routingKey string) error {
	if entry == nil {
		return fmt.Errorf("search log 不能为空")
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("写入 search_logs 失败: %w", err)
		}
		if exchange == "" {
			return nil
		}
		msg, err := NewSearchCompletedMessage(entry, exchange, routingKey)
		if err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("写入 outbox_messages 失败: %w", err)
		}
		return nil
	})
}

// NewSearchCompletedMessage 由审计日志构造一条待发布的 outbox 消息
func NewSearchCompletedMessage(entry *models.SearchLog, exchange, routingKey string) (*models.OutboxMessage, error) {
	if routingKey == "" {
		routingKey = models.EventSearchCompleted
	}
	occurred := entry.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload, err := json.Marshal(models.SearchCompletedEvent{
		RequestID:      entry.RequestID,
		Principal:      entry.Principal,
		Source:         entry.Source,
		Status:         entry.Status,
		ErrorKind:      entry.ErrorKind,
		InputTokens:    entry.InputTokens,
		OutputTokens:   entry.OutputTokens,
		CandidateCount: entry.CandidateCount,
		LatencyMS:      entry.LatencyMS,
		OccurredAt:     occurred,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化 search.completed 事件失败: %w", err)
	}
	return &models.OutboxMessage{
		AggregateID:      entry.RequestID,
		EventType:        models.EventSearchCompleted,
		Payload:          string(payload),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}
