// Package audit 把每次检索写入 search_logs，并通过 outbox 发出 search.completed 事件
package audit

import (
	"context"
	"encoding/json"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/logger"
	"talent-search/internal/search"
	"talent-search/internal/storage"
	"talent-search/internal/storage/models"
	"talent-search/internal/tracing"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const (
	maxStoredQueryRunes = 2000
	writeTimeout        = 5 * time.Second
)

// SearchRecorder 由 *storage.MySQL 实现
type SearchRecorder interface {
	RecordSearch(ctx context.Context, entry *models.SearchLog, exchange, routingKey string) error
}

var _ SearchRecorder = (*storage.MySQL)(nil)

// Observer 审计观察者。写库失败只记日志，不影响响应
type Observer struct {
	recorder   SearchRecorder
	exchange   string
	routingKey string
	logger     *zerolog.Logger
}

var _ search.Observer = (*Observer)(nil)

// NewObserver exchange 为空时只写审计日志，不产生 outbox 消息
func NewObserver(recorder SearchRecorder, mq config.RabbitMQConfig) *Observer {
	return &Observer{
		recorder:   recorder,
		exchange:   mq.SearchEventsExchange,
		routingKey: mq.CompletedRoutingKey,
		logger:     logger.Component("search_audit"),
	}
}

type requestFilters struct {
	LocationIDs []string `json:"external_location_ids,omitempty"`
	FinalState  string   `json:"final_state,omitempty"`
}

// NewSearchLog 由检索事件构造审计记录
func NewSearchLog(ev search.SearchEvent) *models.SearchLog {
	filters, _ := json.Marshal(requestFilters{LocationIDs: ev.LocationIDs, FinalState: ev.FinalState})
	return &models.SearchLog{
		RequestID:      ev.RequestID,
		Principal:      ev.Principal,
		Source:         ev.Source,
		Query:          tracing.TruncateString(ev.Query, maxStoredQueryRunes),
		ResultLimit:    ev.ResultLimit,
		Status:         ev.Status,
		ErrorKind:      ev.Kind,
		FinalState:     ev.FinalState,
		InputTokens:    ev.Usage.InputTokens,
		OutputTokens:   ev.Usage.OutputTokens,
		CandidateCount: ev.CandidateCount,
		LatencyMS:      ev.Latency.Milliseconds(),
		Filters:        datatypes.JSON(filters),
		CreatedAt:      time.Now(),
	}
}

// ObserveSearch 写审计日志。请求 context 取消后仍然写入
func (o *Observer) ObserveSearch(ctx context.Context, ev search.SearchEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := NewSearchLog(ev)
	if err := o.recorder.RecordSearch(ctx, entry, o.exchange, o.routingKey); err != nil {
		o.logger.Warn().Err(err).Str("request_id", ev.RequestID).Msg("写入检索审计日志失败")
	}
}
