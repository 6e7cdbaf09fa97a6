package models

import (
	"time"

	"gorm.io/datatypes"
)

// SearchLog 每次检索请求的审计记录
type SearchLog struct {
	RequestID      string         `gorm:"type:char(36);primaryKey"`
	Principal      string         `gorm:"type:varchar(255);not null;index:idx_search_logs_principal_created_at"`
	Source         string         `gorm:"type:varchar(32);not null"`
	Query          string         `gorm:"type:text;not null"`
	ResultLimit    int            `gorm:"not null"`
	Status         string         `gorm:"type:varchar(16);not null;index:idx_search_logs_status"`
	ErrorKind      string         `gorm:"type:varchar(64)"`
	FinalState     string         `gorm:"type:varchar(32)"`
	InputTokens    int            `gorm:"default:0"`
	OutputTokens   int            `gorm:"default:0"`
	CandidateCount int            `gorm:"default:0"`
	LatencyMS      int64          `gorm:"default:0"`
	Filters        datatypes.JSON `gorm:"type:json"` // 外部位置 id 等请求参数
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_search_logs_principal_created_at,sort:desc"`
}

func (SearchLog) TableName() string {
	return "search_logs"
}

// SearchCompletedEvent 发布到 talent.search.events 的事件体
type SearchCompletedEvent struct {
	RequestID      string    `json:"request_id"`
	Principal      string    `json:"principal"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CandidateCount int       `json:"candidate_count"`
	LatencyMS      int64     `json:"latency_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
}
