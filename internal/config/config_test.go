package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "factory/sensor", cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)

	// 默认检测规则
	require.Len(t, cfg.Detector.Rules, 2)

	temp := cfg.Detector.Rules[0]
	assert.Equal(t, "pressure", temp.SensorType)
	assert.Equal(t, "temperature_c", temp.Metric)
	assert.Equal(t, "instant", temp.Policy)
	assert.Equal(t, "CRITICAL", temp.Severity)
	assert.Equal(t, 50.0, temp.Threshold)

	vib := cfg.Detector.Rules[1]
	assert.Equal(t, "vibration", vib.SensorType)
	assert.Equal(t, "vibration_voltage", vib.Metric)
	assert.Equal(t, "duration", vib.Policy)
	assert.Equal(t, "WARNING", vib.Severity)
	assert.Equal(t, 2.0, vib.Threshold)
	assert.Equal(t, 5*time.Minute, vib.Duration)

	// 冷却默认关闭：恢复后的再次越限立即产生新事件
	assert.Equal(t, time.Duration(0), cfg.Detector.Cooldown)
	assert.False(t, cfg.Detector.ResolveOnStale)
	assert.Equal(t, 10*time.Minute, cfg.Detector.StalenessWindow)

	assert.False(t, cfg.Notify.WarningsEnabled)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, "smtp.gmail.com", cfg.Notify.Email.SMTPHost)
	assert.Equal(t, 587, cfg.Notify.Email.SMTPPort)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "moby:sensor:", cfg.Cache.LatestKeyPrefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("MQTT_TOPIC_PREFIX", "plant/telemetry")
	t.Setenv("TEMP_CRITICAL_THRESHOLD", "65.5")
	t.Setenv("VIBRATION_WARNING_DURATION", "2m")
	t.Setenv("NOTIFY_WARNINGS", "true")
	t.Setenv("DETECTOR_COOLDOWN", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "plant/telemetry", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 65.5, cfg.Detector.Rules[0].Threshold)
	assert.Equal(t, 2*time.Minute, cfg.Detector.Rules[1].Duration)
	assert.True(t, cfg.Notify.WarningsEnabled)
	assert.Equal(t, 10*time.Minute, cfg.Detector.Cooldown)
}

func TestLoad_PlainSecondsDuration(t *testing.T) {
	// 纯数字按秒处理，兼容 VIBRATION_WARNING_DURATION=300 这类写法
	t.Setenv("VIBRATION_WARNING_DURATION", "300")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Detector.Rules[1].Duration)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("NOTIFY_WARNINGS", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Notify.WarningsEnabled)
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "moby",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=moby")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestRecipientDefaultsToSender(t *testing.T) {
	t.Setenv("EMAIL_SENDER", "alerts@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alerts@example.com", cfg.Notify.Email.Recipient)
}
