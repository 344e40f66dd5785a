package httpapi

import (
	"context"
	"net/http"
	"time"

	"moby-monitor/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 720 // 30 天
)

// AlertStore 报警事件查询接口
type AlertStore interface {
	ListAlertEvents(ctx context.Context, since, until time.Time) ([]*models.AlertEvent, error)
	ListActiveAlertEvents(ctx context.Context) ([]*models.AlertEvent, error)
}

// AlertCache 活跃报警缓存接口
type AlertCache interface {
	GetActiveAlerts(ctx context.Context) ([]*models.AlertEvent, error)
}

// AlertHandler 报警查询处理器
type AlertHandler struct {
	store  AlertStore
	cache  AlertCache
	logger *zap.Logger
}

// NewAlertHandler 创建报警查询处理器
func NewAlertHandler(store AlertStore, cache AlertCache, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// GetHistory GET /api/v1/alerts/history?hours=24
// hours 超出 [1, 720] 时收敛到边界
func (h *AlertHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	hours := parseInt(r.URL.Query().Get("hours"), defaultHistoryHours)
	if hours < 1 {
		hours = 1
	}
	if hours > maxHistoryHours {
		hours = maxHistoryHours
	}

	until := time.Now()
	since := until.Add(-time.Duration(hours) * time.Hour)

	events, err := h.store.ListAlertEvents(r.Context(), since, until)
	if err != nil {
		h.logger.Error("Failed to query alert history",
			zap.Int("hours", hours),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail("failed to query alert history"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"hours":  hours,
		"count":  len(events),
		"alerts": events,
	}))
}

// GetActive GET /api/v1/alerts/active
// 先读缓存，缓存缺失回落到数据库
func (h *AlertHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.cache.GetActiveAlerts(r.Context())
	if err != nil {
		if err != redis.Nil {
			h.logger.Warn("Active alerts cache read failed", zap.Error(err))
		}
		alerts, err = h.store.ListActiveAlertEvents(r.Context())
		if err != nil {
			h.logger.Error("Failed to query active alerts", zap.Error(err))
			writeJSON(w, http.StatusOK, Fail("failed to query active alerts"))
			return
		}
	}

	if alerts == nil {
		alerts = []*models.AlertEvent{}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	}))
}
