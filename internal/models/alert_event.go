package models

import (
	"time"
)

// Severity 报警级别，严格有序：Normal < Warning < Critical
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityCritical
)

// String 返回级别名称（与 alert_events.severity 列一致）
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// ParseSeverity 从存储值解析级别
func ParseSeverity(s string) Severity {
	switch s {
	case "WARNING":
		return SeverityWarning
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityNormal
	}
}

// AlertEvent 报警事件（对应 alert_events 表）
// EventID 一旦创建不再复用；ResolvedAt 和 Analysis 在事件生命周期内补写
type AlertEvent struct {
	EventID     string     `json:"event_id" db:"event_id"`
	SensorType  string     `json:"sensor_type" db:"sensor_type"`
	Metric      string     `json:"metric" db:"metric"`
	Severity    Severity   `json:"severity" db:"severity"`
	Value       float64    `json:"value" db:"value"`         // 触发时的读数值
	Threshold   float64    `json:"threshold" db:"threshold"` // 触发阈值
	TriggeredAt time.Time  `json:"triggered_at" db:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Detail      string     `json:"detail" db:"detail"`
	Analysis    *string    `json:"analysis,omitempty" db:"analysis"` // LLM 分析文本（可选）
}

// Resolved 事件是否已恢复
func (e *AlertEvent) Resolved() bool {
	return e.ResolvedAt != nil
}

// NotificationRecord 通知投递记录
// 不变量：同一 (alert_event_id, channel) 最多一次成功投递
type NotificationRecord struct {
	AlertEventID  string    `json:"alert_event_id"`
	Channel       string    `json:"channel"`
	AttemptCount  int       `json:"attempt_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	Delivered     bool      `json:"delivered"`
	Failed        bool      `json:"failed"` // 重试耗尽后的永久失败
}
