package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(_ context.Context, principal string, now time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	key := principal + "/" + now.Truncate(time.Minute).String()
	f.counts[key]++
	return f.counts[key], nil
}

func TestPrincipalLimiter(t *testing.T) {
	l := NewPrincipalLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "alice"), "第 %d 次应放行", i+1)
	}
	assert.False(t, l.Allow(ctx, "alice"))
	// 每个 principal 独立计额
	assert.True(t, l.Allow(ctx, "bob"))
}

func TestWindowLimiter(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}}
	l := NewWindowLimiter(counter, 2, nil, nil)
	now := time.Date(2026, 10, 15, 9, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "alice"))
	assert.True(t, l.Allow(ctx, "alice"))
	assert.False(t, l.Allow(ctx, "alice"))
	assert.True(t, l.Allow(ctx, "bob"))

	// 进入下一个窗口
	now = now.Add(time.Minute)
	assert.True(t, l.Allow(ctx, "alice"))
}

func TestWindowLimiterFallback(t *testing.T) {
	counter := &fakeCounter{err: errors.New("redis down")}
	ctx := context.Background()

	assert.True(t, NewWindowLimiter(counter, 1, nil, nil).Allow(ctx, "alice"), "无 fallback 时放行")

	l := NewWindowLimiter(counter, 1, NewPrincipalLimiter(1), nil)
	assert.True(t, l.Allow(ctx, "alice"))
	assert.False(t, l.Allow(ctx, "alice"))
}
