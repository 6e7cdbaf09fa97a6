package storage

import (
	"encoding/json"
	"testing"
	"time"

	"talent-search/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSearchCompletedMessage(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := &models.SearchLog{
		RequestID:      "req-1",
		Principal:      "recruiter-a",
		Source:         "PrimaryStore",
		Status:         "success",
		InputTokens:    320,
		OutputTokens:   90,
		CandidateCount: 3,
		LatencyMS:      1200,
		CreatedAt:      created,
	}

	msg, err := NewSearchCompletedMessage(entry, "talent.search.events", "")
	require.NoError(t, err)
	assert.Equal(t, "req-1", msg.AggregateID)
	assert.Equal(t, models.EventSearchCompleted, msg.EventType)
	assert.Equal(t, models.EventSearchCompleted, msg.TargetRoutingKey, "路由键缺省为事件类型")
	assert.Equal(t, models.OutboxStatusPending, msg.Status)

	var ev models.SearchCompletedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, "recruiter-a", ev.Principal)
	assert.Equal(t, 320, ev.InputTokens)
	assert.Equal(t, 3, ev.CandidateCount)
	assert.True(t, ev.OccurredAt.Equal(created))
	assert.Empty(t, ev.ErrorKind)
}

func TestGormLogLevel(t *testing.T) {
	assert.NotEqual(t, gormLogLevel(1), gormLogLevel(4))
	assert.Equal(t, gormLogLevel(3), gormLogLevel(0), "未配置时使用 Warn")
}
