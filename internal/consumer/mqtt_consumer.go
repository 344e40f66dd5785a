package consumer

import (
	"context"
	"fmt"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"
	"moby-monitor/internal/normalizer"

	"go.uber.org/zap"
)

// ReadingHandler 归一化读数的下游处理函数
type ReadingHandler func(reading models.Reading)

// MQTTConsumer MQTT 消息消费者
// 订阅 {TopicPrefix}/+，归一化后交给下游处理
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *MQTTClient
	normalizer *normalizer.Normalizer
	handler    ReadingHandler
	logger     *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *MQTTClient,
	norm *normalizer.Normalizer,
	handler ReadingHandler,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		normalizer: norm,
		handler:    handler,
		logger:     logger,
	}
}

// Topic 实际订阅的主题
func (c *MQTTConsumer) Topic() string {
	return c.config.MQTT.TopicPrefix + "/+"
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.Topic(), c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.Topic()),
	)
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop() error {
	if err := c.mqttClient.Unsubscribe(c.Topic()); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理 MQTT 消息
// 畸形消息在这里终止：记日志后丢弃，绝不让单条坏消息影响流水线
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	reading, err := c.normalizer.Normalize(topic, payload)
	if err != nil {
		c.logger.Warn("Dropped malformed sensor message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	c.handler(reading)
	return nil
}
