package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// Sender 出站通知通道契约
type Sender interface {
	Name() string
	Send(ctx context.Context, event *models.AlertEvent) error
}

type recordKey struct {
	eventID string
	channel string
}

// channelRecord 单 (event, channel) 的投递记录
// mu 串行化同一 (event, channel) 的投递尝试，保证至多一次成功投递
type channelRecord struct {
	mu     sync.Mutex
	record models.NotificationRecord
}

// Dispatcher 通知分发器：去重、重试、升级
// 不同事件互不阻塞；同一 (event, channel) 的尝试串行
type Dispatcher struct {
	config  *config.Config
	senders []Sender
	logger  *zap.Logger

	mu      sync.Mutex
	records map[recordKey]*channelRecord

	failedCount int64
}

// NewDispatcher 创建通知分发器
func NewDispatcher(cfg *config.Config, senders []Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		config:  cfg,
		senders: senders,
		logger:  logger,
		records: make(map[recordKey]*channelRecord),
	}
}

// Notify 按策略向所有已注册通道投递事件
// 阻塞直到各通道投递完成或放弃，调用方自行决定并发
func (d *Dispatcher) Notify(ctx context.Context, event *models.AlertEvent) {
	// 推送策略：默认只推 Critical，Warning 仅落记录
	if event.Severity < models.SeverityCritical && !d.config.Notify.WarningsEnabled {
		d.logger.Info("Alert recorded without push",
			zap.String("event_id", event.EventID),
			zap.String("severity", event.Severity.String()),
		)
		return
	}

	var wg sync.WaitGroup
	for _, sender := range d.senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			d.notifyChannel(ctx, event, s)
		}(sender)
	}
	wg.Wait()
}

// Record 查询投递记录（测试与运维可见性用）
func (d *Dispatcher) Record(eventID, channel string) (models.NotificationRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cr, ok := d.records[recordKey{eventID: eventID, channel: channel}]
	if !ok {
		return models.NotificationRecord{}, false
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.record, true
}

// FailedCount 永久失败的投递总数（运维指标）
func (d *Dispatcher) FailedCount() int64 {
	return atomic.LoadInt64(&d.failedCount)
}

func (d *Dispatcher) getRecord(eventID, channel string) *channelRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := recordKey{eventID: eventID, channel: channel}
	if cr, ok := d.records[key]; ok {
		return cr
	}
	cr := &channelRecord{
		record: models.NotificationRecord{
			AlertEventID: eventID,
			Channel:      channel,
		},
	}
	d.records[key] = cr
	return cr
}

func (d *Dispatcher) notifyChannel(ctx context.Context, event *models.AlertEvent, sender Sender) {
	cr := d.getRecord(event.EventID, sender.Name())
	cr.mu.Lock()
	defer cr.mu.Unlock()

	// 已成功或已放弃的记录不再投递
	if cr.record.Delivered || cr.record.Failed {
		return
	}

	deadline := time.Now().Add(d.config.Notify.RetryBudget)
	backoff := d.config.Notify.RetryBackoff

	for attempt := 1; attempt <= d.config.Notify.MaxAttempts; attempt++ {
		cr.record.AttemptCount++
		cr.record.LastAttemptAt = time.Now()

		err := sender.Send(ctx, event)
		if err == nil {
			cr.record.Delivered = true
			d.logger.Info("Notification delivered",
				zap.String("event_id", event.EventID),
				zap.String("channel", sender.Name()),
				zap.Int("attempt_count", cr.record.AttemptCount),
			)
			return
		}

		d.logger.Warn("Notification attempt failed",
			zap.String("event_id", event.EventID),
			zap.String("channel", sender.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == d.config.Notify.MaxAttempts {
			break
		}
		// 重试总时长受预算约束
		if time.Now().Add(backoff).After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			d.markFailed(cr, event, sender, ctx.Err())
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	d.markFailed(cr, event, sender, nil)
}

func (d *Dispatcher) markFailed(cr *channelRecord, event *models.AlertEvent, sender Sender, cause error) {
	cr.record.Failed = true
	atomic.AddInt64(&d.failedCount, 1)
	d.logger.Error("Notification permanently failed",
		zap.String("event_id", event.EventID),
		zap.String("channel", sender.Name()),
		zap.Int("attempt_count", cr.record.AttemptCount),
		zap.Error(cause),
	)
}
