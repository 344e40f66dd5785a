package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// 订阅主题前缀，实际订阅 {TopicPrefix}/+
	TopicPrefix string
}

// MetricRule 单个 (sensor_type, metric) 的检测规则
type MetricRule struct {
	SensorType string
	Metric     string
	Policy     string // "instant"（瞬时越限）或 "duration"（持续越限）
	Severity   string // 触发后的级别：WARNING / CRITICAL
	Threshold  float64
	Duration   time.Duration // 仅 duration 策略使用
}

// Config 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 检测引擎配置
	Detector struct {
		Rules []MetricRule
		// MaxGap 流内最大允许间隔；超过则当前 streak 作废并以迟到读数重新起算。
		// 0 表示容忍任意间隔（传感器离线不打断 streak）
		MaxGap time.Duration
		// ResolveOnStale 传感器静默超过 StalenessWindow 时是否自动恢复报警。
		// 默认 false：静默不是恢复的证据
		ResolveOnStale  bool
		StalenessWindow time.Duration
		// Cooldown 同一 key 恢复后的重复触发冷却时间（0 表示不冷却，
		// 恢复后的再次越限立即产生新事件）
		Cooldown time.Duration
		// WorkerQueueSize 每个 key 的 worker 队列长度
		WorkerQueueSize int
	}

	// 通知配置
	Notify struct {
		Email struct {
			SMTPHost  string
			SMTPPort  int
			Sender    string
			Password  string
			Recipient string
		}
		// WarningsEnabled Warning 级别是否也推送（默认只推 Critical）
		WarningsEnabled bool
		MaxAttempts     int
		RetryBackoff    time.Duration // 首次重试等待，指数递增
		RetryBudget     time.Duration // 重试总时长上限
	}

	// LLM 分析配置（API Key 为空时禁用）
	LLM struct {
		APIURL  string
		APIKey  string
		Model   string
		Timeout time.Duration
		// LookbackWindow 取多长时间的近期读数作为分析上下文
		LookbackWindow time.Duration
	}

	// HTTP 服务配置
	HTTP struct {
		Addr string
	}

	// Redis 缓存配置
	Cache struct {
		LatestKeyPrefix string // 最新读数缓存键前缀，如 "moby:sensor:"
		LatestSuffix    string // 如 ":latest"
		LatestTTL       time.Duration
		AlertsKey       string // 活跃报警缓存键
		AlertsTTL       time.Duration
		StateKeyPrefix  string // 检测状态快照键前缀，如 "moby:detector:"
		StateTTL        time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "moby")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "moby-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "factory/sensor")

	cfg.Detector.Rules = []MetricRule{
		{
			SensorType: "pressure",
			Metric:     "temperature_c",
			Policy:     "instant",
			Severity:   "CRITICAL",
			Threshold:  getEnvFloat("TEMP_CRITICAL_THRESHOLD", 50.0),
		},
		{
			SensorType: "vibration",
			Metric:     "vibration_voltage",
			Policy:     "duration",
			Severity:   "WARNING",
			Threshold:  getEnvFloat("VIBRATION_WARNING_THRESHOLD", 2.0),
			Duration:   getEnvDuration("VIBRATION_WARNING_DURATION", 5*time.Minute),
		},
	}
	cfg.Detector.MaxGap = getEnvDuration("DETECTOR_MAX_GAP", 0)
	cfg.Detector.ResolveOnStale = getEnvBool("DETECTOR_RESOLVE_ON_STALE", false)
	cfg.Detector.StalenessWindow = getEnvDuration("DETECTOR_STALENESS_WINDOW", 10*time.Minute)
	cfg.Detector.Cooldown = getEnvDuration("DETECTOR_COOLDOWN", 0)
	cfg.Detector.WorkerQueueSize = getEnvInt("DETECTOR_QUEUE_SIZE", 64)

	cfg.Notify.Email.SMTPHost = getEnv("EMAIL_SMTP_HOST", "smtp.gmail.com")
	cfg.Notify.Email.SMTPPort = getEnvInt("EMAIL_SMTP_PORT", 587)
	cfg.Notify.Email.Sender = getEnv("EMAIL_SENDER", "")
	cfg.Notify.Email.Password = getEnv("EMAIL_PASSWORD", "")
	cfg.Notify.Email.Recipient = getEnv("EMAIL_RECIPIENT", cfg.Notify.Email.Sender)
	cfg.Notify.WarningsEnabled = getEnvBool("NOTIFY_WARNINGS", false)
	cfg.Notify.MaxAttempts = getEnvInt("NOTIFY_MAX_ATTEMPTS", 3)
	cfg.Notify.RetryBackoff = getEnvDuration("NOTIFY_RETRY_BACKOFF", 2*time.Second)
	cfg.Notify.RetryBudget = getEnvDuration("NOTIFY_RETRY_BUDGET", time.Minute)

	cfg.LLM.APIURL = getEnv("LLM_API_URL", "")
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", "")
	cfg.LLM.Model = getEnv("LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", 10*time.Second)
	cfg.LLM.LookbackWindow = getEnvDuration("LLM_LOOKBACK_WINDOW", 5*time.Minute)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8000")

	cfg.Cache.LatestKeyPrefix = getEnv("CACHE_LATEST_PREFIX", "moby:sensor:")
	cfg.Cache.LatestSuffix = ":latest"
	cfg.Cache.LatestTTL = getEnvDuration("CACHE_LATEST_TTL", time.Minute)
	cfg.Cache.AlertsKey = getEnv("CACHE_ALERTS_KEY", "moby:alerts:active")
	cfg.Cache.AlertsTTL = getEnvDuration("CACHE_ALERTS_TTL", 30*time.Second)
	cfg.Cache.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "moby:detector:")
	cfg.Cache.StateTTL = getEnvDuration("CACHE_STATE_TTL", 24*time.Hour)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// 纯数字按秒处理（如 VIBRATION_WARNING_DURATION=300）
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
