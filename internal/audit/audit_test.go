package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/search"
	"talent-search/internal/storage/models"
	"talent-search/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	entries  []*models.SearchLog
	exchange string
	key      string
	err      error
	ctxErr   error
}

func (f *fakeRecorder) RecordSearch(ctx context.Context, entry *models.SearchLog, exchange, routingKey string) error {
	f.entries = append(f.entries, entry)
	f.exchange, f.key = exchange, routingKey
	f.ctxErr = ctx.Err()
	return f.err
}

func event() search.SearchEvent {
	return search.SearchEvent{
		RequestID:      "req-1",
		Principal:      "alice",
		Source:         "Both",
		Query:          "senior go engineer",
		ResultLimit:    7,
		LocationIDs:    []string{"folder-1"},
		Status:         types.StatusSuccess,
		FinalState:     "PARSED",
		Usage:          types.TokenUsage{InputTokens: 10, OutputTokens: 5},
		CandidateCount: 2,
		Latency:        1500 * time.Millisecond,
	}
}

func TestNewSearchLog(t *testing.T) {
	entry := NewSearchLog(event())
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "alice", entry.Principal)
	assert.Equal(t, int64(1500), entry.LatencyMS)
	assert.Equal(t, 2, entry.CandidateCount)
	assert.JSONEq(t, `{"external_location_ids":["folder-1"],"final_state":"PARSED"}`, string(entry.Filters))

	ev := event()
	ev.Query = strings.Repeat("q", 5000)
	assert.Less(t, len(NewSearchLog(ev).Query), 5000)
}

func TestObserveSearch(t *testing.T) {
	rec := &fakeRecorder{}
	o := NewObserver(rec, config.RabbitMQConfig{SearchEventsExchange: "talent.search.events", CompletedRoutingKey: "search.completed"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.ObserveSearch(ctx, event())

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "talent.search.events", rec.exchange)
	assert.Equal(t, "search.completed", rec.key)
	assert.NoError(t, rec.ctxErr, "请求取消后审计仍应写入")

	rec.err = errors.New("mysql gone")
	assert.NotPanics(t, func() { o.ObserveSearch(context.Background(), event()) })
}
