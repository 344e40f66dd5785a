package consumer

import (
	"context"
	"testing"
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCacheManager(t *testing.T) (*miniredis.Miniredis, *CacheManager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Cache.LatestKeyPrefix = "moby:sensor:"
	cfg.Cache.LatestSuffix = ":latest"
	cfg.Cache.LatestTTL = time.Minute
	cfg.Cache.AlertsKey = "moby:alerts:active"
	cfg.Cache.AlertsTTL = 30 * time.Second

	return mr, NewCacheManager(cfg, client, zap.NewNop())
}

func TestSetLatestReading_RoundTrip(t *testing.T) {
	_, cm := setupCacheManager(t)
	ctx := context.Background()

	reading := models.Reading{
		SensorType:  "dht11",
		SensorModel: "DHT11",
		Fields:      map[string]float64{"temperature_c": 24.5, "humidity_percent": 60},
		Timestamp:   time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, cm.SetLatestReading(ctx, reading))

	readings, err := cm.GetLatestReadings(ctx)
	require.NoError(t, err)
	require.Contains(t, readings, "dht11")
	assert.Equal(t, reading.Fields, readings["dht11"].Fields)
}

func TestSetLatestReading_OverwritesPrevious(t *testing.T) {
	_, cm := setupCacheManager(t)
	ctx := context.Background()

	first := models.Reading{
		SensorType: "sound",
		Fields:     map[string]float64{"sound_voltage": 0.3},
		Timestamp:  time.Now(),
	}
	second := models.Reading{
		SensorType: "sound",
		Fields:     map[string]float64{"sound_voltage": 0.9},
		Timestamp:  time.Now(),
	}
	require.NoError(t, cm.SetLatestReading(ctx, first))
	require.NoError(t, cm.SetLatestReading(ctx, second))

	readings, err := cm.GetLatestReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.9, readings["sound"].Fields["sound_voltage"])
}

func TestGetLatestReadings_MultipleSensorTypes(t *testing.T) {
	_, cm := setupCacheManager(t)
	ctx := context.Background()

	for _, st := range []string{"dht11", "vibration", "pressure"} {
		require.NoError(t, cm.SetLatestReading(ctx, models.Reading{
			SensorType: st,
			Fields:     map[string]float64{"v": 1},
			Timestamp:  time.Now(),
		}))
	}

	readings, err := cm.GetLatestReadings(ctx)
	require.NoError(t, err)
	assert.Len(t, readings, 3)
}

func TestGetLatestReadings_ExpiredEntriesGone(t *testing.T) {
	mr, cm := setupCacheManager(t)
	ctx := context.Background()

	require.NoError(t, cm.SetLatestReading(ctx, models.Reading{
		SensorType: "dht11",
		Fields:     map[string]float64{"temperature_c": 24},
		Timestamp:  time.Now(),
	}))

	mr.FastForward(2 * time.Minute)

	readings, err := cm.GetLatestReadings(ctx)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestActiveAlertsCache_RoundTrip(t *testing.T) {
	_, cm := setupCacheManager(t)
	ctx := context.Background()

	alerts := []*models.AlertEvent{
		{
			EventID:     "ev-1",
			SensorType:  "pressure",
			Metric:      "temperature_c",
			Severity:    models.SeverityCritical,
			Value:       52,
			Threshold:   50,
			TriggeredAt: time.Now().Truncate(time.Millisecond),
		},
	}
	require.NoError(t, cm.UpdateActiveAlerts(ctx, alerts))

	got, err := cm.GetActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ev-1", got[0].EventID)
	assert.Equal(t, models.SeverityCritical, got[0].Severity)
}

func TestGetActiveAlerts_CacheMiss(t *testing.T) {
	_, cm := setupCacheManager(t)

	_, err := cm.GetActiveAlerts(context.Background())
	assert.ErrorIs(t, err, redis.Nil)
}
