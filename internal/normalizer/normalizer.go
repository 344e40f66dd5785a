package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// knownFields 各传感器类型的合法字段白名单
var knownFields = map[string]map[string]bool{
	"dht11": {
		"temperature_c":    true,
		"humidity_percent": true,
	},
	"vibration": {
		"vibration_raw":     true,
		"vibration_voltage": true,
	},
	"sound": {
		"sound_raw":     true,
		"sound_voltage": true,
	},
	"accel_gyro": {
		"accel_x": true, "accel_y": true, "accel_z": true,
		"gyro_x": true, "gyro_y": true, "gyro_z": true,
	},
	"pressure": {
		"temperature_c":          true,
		"pressure_hpa":           true,
		"altitude_m":             true,
		"sea_level_pressure_hpa": true,
	},
}

// KnownSensorTypes 返回字段白名单覆盖的传感器类型，升序
func KnownSensorTypes() []string {
	types := make([]string, 0, len(knownFields))
	for sensorType := range knownFields {
		types = append(types, sensorType)
	}
	sort.Strings(types)
	return types
}

// Normalizer 读数归一化器：校验入站原始消息并转换为规范 Reading
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer 创建归一化器
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize 解析并校验原始消息
// topic 用于在 payload 缺少 sensor_type 时兜底（主题格式: factory/sensor/{sensor_type}）
func (n *Normalizer) Normalize(topic string, payload []byte) (models.Reading, error) {
	var raw models.RawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.Reading{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	sensorType := raw.SensorType
	if sensorType == "" {
		parts := strings.Split(topic, "/")
		if len(parts) >= 3 {
			sensorType = parts[len(parts)-1]
		}
	}
	if sensorType == "" {
		return models.Reading{}, fmt.Errorf("missing sensor_type: topic=%s", topic)
	}

	if raw.TimestampNS <= 0 {
		return models.Reading{}, fmt.Errorf("invalid timestamp_ns: %d", raw.TimestampNS)
	}
	if len(raw.Fields) == 0 {
		return models.Reading{}, fmt.Errorf("empty fields: sensor_type=%s", sensorType)
	}

	fields := make(map[string]float64, len(raw.Fields))
	allowed := knownFields[sensorType]
	for name, value := range raw.Fields {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return models.Reading{}, fmt.Errorf("non-finite value: field=%s", name)
		}
		// 未知传感器类型不做白名单过滤，全部保留
		if allowed != nil && !allowed[name] {
			n.logger.Warn("Dropping unknown field",
				zap.String("sensor_type", sensorType),
				zap.String("field", name),
			)
			continue
		}
		fields[name] = value
	}
	if len(fields) == 0 {
		return models.Reading{}, fmt.Errorf("no known fields: sensor_type=%s", sensorType)
	}

	model := raw.SensorModel
	if model == "" {
		model = "unknown"
	}

	return models.Reading{
		SensorType:  sensorType,
		SensorModel: model,
		Fields:      fields,
		Timestamp:   time.Unix(0, raw.TimestampNS),
	}, nil
}
