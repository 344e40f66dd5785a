package models

import (
	"time"
)

// Reading 归一化后的传感器读数（由 normalizer 产生，不可变）
type Reading struct {
	SensorType  string             `json:"sensor_type"`  // dht11, vibration, sound, accel_gyro, pressure
	SensorModel string             `json:"sensor_model"` // 传感器型号，如 "BMP180"
	Fields      map[string]float64 `json:"fields"`       // 字段名 → 数值
	Timestamp   time.Time          `json:"timestamp"`    // 读数自身的时间戳（纳秒精度）
}

// RawPayload MQTT 入站原始消息格式
// 主题格式: factory/sensor/{sensor_type}
type RawPayload struct {
	SensorType  string             `json:"sensor_type"`
	SensorModel string             `json:"sensor_model"`
	Fields      map[string]float64 `json:"fields"`
	TimestampNS int64              `json:"timestamp_ns"`
}

// Field 读取指定字段值，第二个返回值表示字段是否存在
func (r Reading) Field(name string) (float64, bool) {
	v, ok := r.Fields[name]
	return v, ok
}
