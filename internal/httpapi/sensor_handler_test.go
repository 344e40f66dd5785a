package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"moby-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReadingCache 可编排的最新读数缓存
type fakeReadingCache struct {
	readings map[string]models.Reading
	err      error
}

func (f *fakeReadingCache) GetLatestReadings(ctx context.Context) (map[string]models.Reading, error) {
	return f.readings, f.err
}

// fakeReadingStore 可编排的读数落库查询
type fakeReadingStore struct {
	readings map[string]*models.Reading
	err      error
	queried  []string
}

func (f *fakeReadingStore) LatestReading(ctx context.Context, sensorType string) (*models.Reading, error) {
	f.queried = append(f.queried, sensorType)
	if f.err != nil {
		return nil, f.err
	}
	return f.readings[sensorType], nil
}

func TestGetLatest_Success(t *testing.T) {
	cache := &fakeReadingCache{readings: map[string]models.Reading{
		"dht11": {
			SensorType: "dht11",
			Fields:     map[string]float64{"temperature_c": 24.5},
			Timestamp:  time.Now(),
		},
		"pressure": {
			SensorType: "pressure",
			Fields:     map[string]float64{"temperature_c": 48.0},
			Timestamp:  time.Now(),
		},
	}}
	h := NewSensorHandler(cache, &fakeReadingStore{}, zap.NewNop())

	w := httptest.NewRecorder()
	h.GetLatest(w, httptest.NewRequest(http.MethodGet, "/api/v1/sensors/latest", nil))

	res := decodeResult(t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, float64(2), res.Result["count"])

	sensors, ok := res.Result["sensors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sensors, "dht11")
	assert.Contains(t, sensors, "pressure")
}

func TestGetLatest_CacheMissFallsBackToStore(t *testing.T) {
	// 缓存只有 dht11，pressure 的最新读数从数据库补齐
	cache := &fakeReadingCache{readings: map[string]models.Reading{
		"dht11": {
			SensorType: "dht11",
			Fields:     map[string]float64{"temperature_c": 24.5},
			Timestamp:  time.Now(),
		},
	}}
	store := &fakeReadingStore{readings: map[string]*models.Reading{
		"pressure": {
			SensorType: "pressure",
			Fields:     map[string]float64{"temperature_c": 48.0},
			Timestamp:  time.Now(),
		},
	}}
	h := NewSensorHandler(cache, store, zap.NewNop())

	w := httptest.NewRecorder()
	h.GetLatest(w, httptest.NewRequest(http.MethodGet, "/api/v1/sensors/latest", nil))

	res := decodeResult(t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, float64(2), res.Result["count"])

	sensors, ok := res.Result["sensors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sensors, "pressure")
	assert.NotContains(t, store.queried, "dht11")
}

func TestGetLatest_CacheErrorFallsBackToStore(t *testing.T) {
	cache := &fakeReadingCache{err: errors.New("redis down")}
	store := &fakeReadingStore{readings: map[string]*models.Reading{
		"vibration": {
			SensorType: "vibration",
			Fields:     map[string]float64{"vibration_voltage": 1.2},
			Timestamp:  time.Now(),
		},
	}}
	h := NewSensorHandler(cache, store, zap.NewNop())

	w := httptest.NewRecorder()
	h.GetLatest(w, httptest.NewRequest(http.MethodGet, "/api/v1/sensors/latest", nil))

	res := decodeResult(t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, float64(1), res.Result["count"])

	sensors, ok := res.Result["sensors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sensors, "vibration")
}

func TestGetLatest_StoreErrorReturnsPartial(t *testing.T) {
	cache := &fakeReadingCache{readings: map[string]models.Reading{
		"dht11": {
			SensorType: "dht11",
			Fields:     map[string]float64{"temperature_c": 24.5},
			Timestamp:  time.Now(),
		},
	}}
	store := &fakeReadingStore{err: errors.New("db down")}
	h := NewSensorHandler(cache, store, zap.NewNop())

	w := httptest.NewRecorder()
	h.GetLatest(w, httptest.NewRequest(http.MethodGet, "/api/v1/sensors/latest", nil))

	res := decodeResult(t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, float64(1), res.Result["count"])
}

func TestHealthz(t *testing.T) {
	router := NewRouter(zap.NewNop())
	router.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok("alive"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}
