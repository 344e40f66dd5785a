package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器
// 维护两类缓存：各传感器类型的最新读数、当前活跃报警列表
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// latestKey 最新读数缓存键，如 moby:sensor:dht11:latest
func (c *CacheManager) latestKey(sensorType string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Cache.LatestKeyPrefix,
		sensorType,
		c.config.Cache.LatestSuffix,
	)
}

// SetLatestReading 更新某传感器类型的最新读数缓存
func (c *CacheManager) SetLatestReading(ctx context.Context, reading models.Reading) error {
	jsonData, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	key := c.latestKey(reading.SensorType)
	err = c.redisClient.Set(ctx, key, jsonData, c.config.Cache.LatestTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set latest reading cache: %w", err)
	}

	c.logger.Debug("Updated latest reading cache",
		zap.String("key", key),
	)
	return nil
}

// GetLatestReadings 扫描全部最新读数缓存
// 返回 sensor_type → Reading
func (c *CacheManager) GetLatestReadings(ctx context.Context) (map[string]models.Reading, error) {
	pattern := fmt.Sprintf("%s*%s",
		c.config.Cache.LatestKeyPrefix,
		c.config.Cache.LatestSuffix,
	)

	readings := make(map[string]models.Reading)
	iter := c.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		val, err := c.redisClient.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue // 扫描与读取之间过期
			}
			return nil, fmt.Errorf("failed to get cache: %w", err)
		}

		var reading models.Reading
		if err := json.Unmarshal([]byte(val), &reading); err != nil {
			c.logger.Warn("Skipping corrupted reading cache entry",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}

		// 提取 sensor_type（去掉前缀和后缀）
		sensorType := key[len(c.config.Cache.LatestKeyPrefix):]
		sensorType = sensorType[:len(sensorType)-len(c.config.Cache.LatestSuffix)]
		readings[sensorType] = reading
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return readings, nil
}

// UpdateActiveAlerts 更新活跃报警缓存
func (c *CacheManager) UpdateActiveAlerts(ctx context.Context, alerts []*models.AlertEvent) error {
	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	err = c.redisClient.Set(ctx, c.config.Cache.AlertsKey, jsonData, c.config.Cache.AlertsTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set active alerts cache: %w", err)
	}

	c.logger.Debug("Updated active alerts cache",
		zap.Int("alert_count", len(alerts)),
	)
	return nil
}

// GetActiveAlerts 读取活跃报警缓存，缓存缺失返回 (nil, redis.Nil)
func (c *CacheManager) GetActiveAlerts(ctx context.Context) ([]*models.AlertEvent, error) {
	val, err := c.redisClient.Get(ctx, c.config.Cache.AlertsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to get active alerts cache: %w", err)
	}

	var alerts []*models.AlertEvent
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal active alerts: %w", err)
	}

	return alerts, nil
}
