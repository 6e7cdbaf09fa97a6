package handler

import (
	"context"
	"time"

	"talent-search/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// PartitionCounter 由 *storage.ResumeStore 实现
type PartitionCounter interface {
	Count(ctx context.Context, partition types.Partition) (int64, error)
}

// HealthHandler 存活检查，附带主库简历数量
type HealthHandler struct {
	counter PartitionCounter
	version string
}

// NewHealthHandler counter 可以为 nil
func NewHealthHandler(counter PartitionCounter, version string) *HealthHandler {
	return &HealthHandler{counter: counter, version: version}
}

// HandleHealth GET / 与 GET /api/v1/health。
// 计数失败不影响存活状态，只省略 primary_count
func (h *HealthHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	body := utils.H{"status": "ok", "version": h.version}
	if h.counter != nil {
		countCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if n, err := h.counter.Count(countCtx, types.PartitionPrimary); err == nil {
			body["primary_count"] = n
		} else {
			body["store"] = "unavailable"
		}
	}
	c.JSON(consts.StatusOK, body)
}
