package httpapi

import (
	"context"
	"net/http"

	"moby-monitor/internal/models"
	"moby-monitor/internal/normalizer"

	"go.uber.org/zap"
)

// ReadingCache 最新读数缓存接口
type ReadingCache interface {
	GetLatestReadings(ctx context.Context) (map[string]models.Reading, error)
}

// ReadingStore 读数落库查询接口
type ReadingStore interface {
	LatestReading(ctx context.Context, sensorType string) (*models.Reading, error)
}

// SensorHandler 传感器状态查询处理器
type SensorHandler struct {
	cache       ReadingCache
	store       ReadingStore
	sensorTypes []string
	logger      *zap.Logger
}

// NewSensorHandler 创建传感器状态查询处理器
func NewSensorHandler(cache ReadingCache, store ReadingStore, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{
		cache:       cache,
		store:       store,
		sensorTypes: normalizer.KnownSensorTypes(),
		logger:      logger,
	}
}

// GetLatest GET /api/v1/sensors/latest
// 先读缓存，缓存缺失的传感器类型回落到数据库最近一条
func (h *SensorHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	readings, err := h.cache.GetLatestReadings(r.Context())
	if err != nil {
		h.logger.Warn("Latest readings cache read failed", zap.Error(err))
		readings = nil
	}
	if readings == nil {
		readings = map[string]models.Reading{}
	}

	for _, sensorType := range h.sensorTypes {
		if _, ok := readings[sensorType]; ok {
			continue
		}
		reading, err := h.store.LatestReading(r.Context(), sensorType)
		if err != nil {
			h.logger.Error("Failed to query latest reading",
				zap.String("sensor_type", sensorType),
				zap.Error(err),
			)
			continue
		}
		if reading == nil {
			continue
		}
		readings[sensorType] = *reading
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"count":   len(readings),
		"sensors": readings,
	}))
}
