package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key 检测状态机的标识：(sensor_type, metric)
type Key struct {
	SensorType string
	Metric     string
}

func (k Key) String() string {
	return k.SensorType + "/" + k.Metric
}

// Sink 检测引擎的下游出口
// 在 worker goroutine 内同步调用，实现方负责把耗时工作移出关键路径
type Sink interface {
	// AlertOpened 状态迁移进入 Warning/Critical 时调用，事件已定稿
	AlertOpened(event *models.AlertEvent)
	// AlertResolved 状态迁移回 Normal 时调用
	AlertResolved(key Key, eventID string, resolvedAt time.Time)
}

type taskKind int

const (
	taskReading taskKind = iota
	taskStaleCheck
)

type task struct {
	kind  taskKind
	value float64
	ts    time.Time
	now   time.Time // taskStaleCheck 用
}

// keyWorker 单 key 的检测 worker：一个 goroutine 串行消费该 key 的读数
type keyWorker struct {
	key    Key
	rule   config.MetricRule
	state  *DetectionState
	ch     chan task
	engine *Engine
}

// Engine 报警检测引擎
// 每个 (sensor_type, metric) key 一个 worker，key 内串行、key 间并行
type Engine struct {
	config *config.Config
	rules  map[Key]config.MetricRule
	states StateStore // 可为 nil（不做快照）
	sink   Sink
	logger *zap.Logger

	mu      sync.Mutex
	workers map[Key]*keyWorker
	wg      sync.WaitGroup
	stopped bool
}

// NewEngine 创建检测引擎
func NewEngine(cfg *config.Config, states StateStore, sink Sink, logger *zap.Logger) *Engine {
	rules := make(map[Key]config.MetricRule, len(cfg.Detector.Rules))
	for _, rule := range cfg.Detector.Rules {
		rules[Key{SensorType: rule.SensorType, Metric: rule.Metric}] = rule
	}

	return &Engine{
		config:  cfg,
		rules:   rules,
		states:  states,
		sink:    sink,
		logger:  logger,
		workers: make(map[Key]*keyWorker),
	}
}

// Process 将读数分发给匹配规则的 key worker
// 非阻塞：worker 队列满时丢弃读数并记日志，绝不阻塞摄入路径
func (e *Engine) Process(reading models.Reading) {
	for key, rule := range e.rules {
		if key.SensorType != reading.SensorType {
			continue
		}
		value, ok := reading.Field(key.Metric)
		if !ok {
			continue
		}
		e.dispatch(key, rule, task{kind: taskReading, value: value, ts: reading.Timestamp})
	}
}

// dispatch 在锁内投递，保证不会与 Stop 关闭通道竞争
func (e *Engine) dispatch(key Key, rule config.MetricRule, t task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	w, ok := e.workers[key]
	if !ok {
		w = e.startWorkerLocked(key, rule)
	}

	select {
	case w.ch <- t:
	default:
		e.logger.Error("Detection worker queue full, reading dropped",
			zap.String("key", key.String()),
			zap.Time("reading_ts", t.ts),
		)
	}
}

// RunStalenessSweep 周期性检查静默传感器上的未恢复报警
// 阻塞直到 ctx 取消
func (e *Engine) RunStalenessSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.mu.Lock()
			if e.stopped {
				e.mu.Unlock()
				return
			}
			for _, w := range e.workers {
				select {
				case w.ch <- task{kind: taskStaleCheck, now: now}:
				default:
				}
			}
			e.mu.Unlock()
		}
	}
}

// Stop 关闭所有 worker 并等待队列排空
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, w := range e.workers {
		close(w.ch)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// startWorkerLocked 创建并启动 key worker，调用方需持有 e.mu
func (e *Engine) startWorkerLocked(key Key, rule config.MetricRule) *keyWorker {
	w := &keyWorker{
		key:    key,
		rule:   rule,
		state:  e.loadState(key),
		ch:     make(chan task, e.config.Detector.WorkerQueueSize),
		engine: e,
	}
	e.workers[key] = w
	e.wg.Add(1)
	go w.run()

	e.logger.Info("Detection worker started",
		zap.String("key", key.String()),
		zap.String("policy", rule.Policy),
		zap.Float64("threshold", rule.Threshold),
	)

	return w
}

// loadState 从快照恢复状态，没有快照则从 Normal 开始
func (e *Engine) loadState(key Key) *DetectionState {
	if e.states == nil {
		return &DetectionState{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := e.states.Load(ctx, key.String())
	if err != nil {
		e.logger.Error("Failed to load detection state snapshot",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return &DetectionState{}
	}
	if state == nil {
		return &DetectionState{}
	}

	e.logger.Info("Detection state restored from snapshot",
		zap.String("key", key.String()),
		zap.String("severity", state.Severity.String()),
	)
	return state
}

func (w *keyWorker) run() {
	defer w.engine.wg.Done()

	for t := range w.ch {
		switch t.kind {
		case taskReading:
			w.handleReading(t)
		case taskStaleCheck:
			w.handleStaleCheck(t.now)
		}
	}
}

func (w *keyWorker) handleReading(t task) {
	e := w.engine
	out := evaluate(w.rule, w.state, t.value, t.ts,
		e.config.Detector.MaxGap, e.config.Detector.Cooldown)

	if out.anomaly != "" {
		if out.anomaly == "duplicate" {
			e.logger.Debug("Duplicate reading ignored",
				zap.String("key", w.key.String()),
				zap.Time("reading_ts", t.ts),
			)
		} else {
			e.logger.Warn("Anomalous reading ignored",
				zap.String("key", w.key.String()),
				zap.String("reason", out.anomaly),
				zap.Time("reading_ts", t.ts),
				zap.Time("last_reading_ts", w.state.LastReadingAt),
			)
		}
		return
	}

	if out.trigger {
		event := &models.AlertEvent{
			EventID:     uuid.New().String(),
			SensorType:  w.key.SensorType,
			Metric:      w.key.Metric,
			Severity:    w.state.Severity,
			Value:       t.value,
			Threshold:   w.rule.Threshold,
			TriggeredAt: t.ts,
			Detail:      w.detail(t.value),
		}
		w.state.OpenEventID = event.EventID

		e.logger.Warn("Alert triggered",
			zap.String("event_id", event.EventID),
			zap.String("key", w.key.String()),
			zap.String("severity", event.Severity.String()),
			zap.Float64("value", t.value),
			zap.Float64("threshold", w.rule.Threshold),
		)
		e.sink.AlertOpened(event)
	}

	if out.resolve {
		eventID := w.state.OpenEventID
		w.state.OpenEventID = ""
		if eventID != "" {
			e.logger.Info("Alert resolved",
				zap.String("event_id", eventID),
				zap.String("key", w.key.String()),
				zap.Float64("value", t.value),
			)
			e.sink.AlertResolved(w.key, eventID, t.ts)
		}
	}

	w.saveState()
}

// handleStaleCheck 传感器静默处理
// 默认只告警不恢复：静默不是恢复的证据（须显式配置 ResolveOnStale）
func (w *keyWorker) handleStaleCheck(now time.Time) {
	e := w.engine
	if w.state.Severity == models.SeverityNormal || w.state.LastReadingAt.IsZero() {
		return
	}
	silence := now.Sub(w.state.LastReadingAt)
	if silence <= e.config.Detector.StalenessWindow {
		return
	}

	if !e.config.Detector.ResolveOnStale {
		e.logger.Warn("Sensor silent with open alert",
			zap.String("key", w.key.String()),
			zap.String("severity", w.state.Severity.String()),
			zap.Duration("silence", silence),
		)
		return
	}

	eventID := w.state.OpenEventID
	w.state.Severity = models.SeverityNormal
	w.state.ConditionStartedAt = nil
	w.state.OpenEventID = ""
	resolved := now
	w.state.LastResolvedAt = &resolved

	if eventID != "" {
		e.logger.Info("Alert auto-resolved on staleness",
			zap.String("event_id", eventID),
			zap.String("key", w.key.String()),
			zap.Duration("silence", silence),
		)
		e.sink.AlertResolved(w.key, eventID, now)
	}
	w.saveState()
}

func (w *keyWorker) saveState() {
	e := w.engine
	if e.states == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := e.states.Save(ctx, w.key.String(), w.state); err != nil {
		e.logger.Error("Failed to save detection state snapshot",
			zap.String("key", w.key.String()),
			zap.Error(err),
		)
	}
}

func (w *keyWorker) detail(value float64) string {
	if w.rule.Policy == "duration" {
		return fmt.Sprintf("%s %s held at %.2f (threshold %.2f) for %s",
			w.key.SensorType, w.key.Metric, value, w.rule.Threshold, w.rule.Duration)
	}
	return fmt.Sprintf("%s %s %.2f exceeded %s threshold %.2f",
		w.key.SensorType, w.key.Metric, value, w.rule.Severity, w.rule.Threshold)
}
