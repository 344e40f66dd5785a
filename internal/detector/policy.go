package detector

import (
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"
)

// outcome 一次读数评估的结果
type outcome struct {
	trigger bool // 进入 Warning/Critical，需要开出新事件
	resolve bool // 回到 Normal，需要关闭当前事件
	// anomaly 非空表示读数被拒绝（乱序/重复），状态未变
	anomaly string
}

// evaluate 以读数自身的时间戳评估规则并就地更新状态
// 乱序与重复读数不产生任何状态迁移
func evaluate(rule config.MetricRule, state *DetectionState, value float64, ts time.Time, maxGap, cooldown time.Duration) outcome {
	if !state.LastReadingAt.IsZero() {
		if ts.Before(state.LastReadingAt) {
			return outcome{anomaly: "out_of_order"}
		}
		if ts.Equal(state.LastReadingAt) {
			return outcome{anomaly: "duplicate"}
		}
	}
	if state.ConditionStartedAt != nil && ts.Before(*state.ConditionStartedAt) {
		// streak 起点之前的读数使 streak 失效
		return outcome{anomaly: "before_streak"}
	}

	var out outcome
	target := models.ParseSeverity(rule.Severity)

	switch rule.Policy {
	case "duration":
		if value >= rule.Threshold {
			// 间隔过大时当前 streak 作废，以迟到读数重新起算
			if state.ConditionStartedAt != nil && maxGap > 0 && ts.Sub(state.LastReadingAt) > maxGap {
				state.ConditionStartedAt = nil
			}
			if state.ConditionStartedAt == nil {
				started := ts
				state.ConditionStartedAt = &started
			}
			if ts.Sub(*state.ConditionStartedAt) >= rule.Duration && state.Severity < target {
				if !inCooldown(state, ts, cooldown) {
					state.Severity = target
					out.trigger = true
				}
			}
		} else {
			state.ConditionStartedAt = nil
			if state.Severity > models.SeverityNormal {
				state.Severity = models.SeverityNormal
				resolved := ts
				state.LastResolvedAt = &resolved
				out.resolve = true
			}
		}

	default: // instant
		if value >= rule.Threshold {
			if state.Severity < target && !inCooldown(state, ts, cooldown) {
				state.Severity = target
				out.trigger = true
			}
		} else if state.Severity > models.SeverityNormal {
			state.Severity = models.SeverityNormal
			resolved := ts
			state.LastResolvedAt = &resolved
			out.resolve = true
		}
	}

	state.LastReadingAt = ts
	return out
}

func inCooldown(state *DetectionState, ts time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || state.LastResolvedAt == nil {
		return false
	}
	return ts.Sub(*state.LastResolvedAt) < cooldown
}
