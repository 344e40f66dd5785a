package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DetectionState 单个 (sensor_type, metric) key 的检测状态
// 只由该 key 的 worker 修改，key 之间互不共享
type DetectionState struct {
	Severity models.Severity `json:"severity"`
	// ConditionStartedAt 越限 streak 的起始时间（duration 策略用）
	ConditionStartedAt *time.Time `json:"condition_started_at,omitempty"`
	LastReadingAt      time.Time  `json:"last_reading_at"`
	// OpenEventID 当前未恢复报警事件的 ID
	OpenEventID string `json:"open_event_id,omitempty"`
	// LastResolvedAt 上次恢复时间（冷却判断用）
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
}

// StateStore 检测状态快照存储
// 进程重启后能恢复进行中的 streak 与未恢复事件
type StateStore interface {
	Load(ctx context.Context, key string) (*DetectionState, error)
	Save(ctx context.Context, key string, state *DetectionState) error
}

// RedisStateStore 基于 Redis 的状态快照存储
type RedisStateStore struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewRedisStateStore 创建 Redis 状态存储
func NewRedisStateStore(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *RedisStateStore {
	return &RedisStateStore{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (s *RedisStateStore) stateKey(key string) string {
	return s.config.Cache.StateKeyPrefix + key
}

// Load 读取状态快照，不存在时返回 (nil, nil)
func (s *RedisStateStore) Load(ctx context.Context, key string) (*DetectionState, error) {
	val, err := s.redisClient.Get(ctx, s.stateKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state DetectionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Save 写入状态快照（带 TTL）
func (s *RedisStateStore) Save(ctx context.Context, key string, state *DetectionState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redisClient.Set(ctx, s.stateKey(key), jsonData, s.config.Cache.StateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	return nil
}
