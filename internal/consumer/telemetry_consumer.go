package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/collector"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/router"

	"go.uber.org/zap"
)

// Dispatcher 处理一条总线消息（Router、UPS 合并器等）
type Dispatcher interface {
	Dispatch(ctx context.Context, msg mqtt.Message) error
}

// DispatchFunc 把普通函数适配为 Dispatcher
type DispatchFunc func(ctx context.Context, msg mqtt.Message) error

func (f DispatchFunc) Dispatch(ctx context.Context, msg mqtt.Message) error {
	return f(ctx, msg)
}

// TelemetryConsumer 订阅遥测主题并交给 Dispatcher 处理
type TelemetryConsumer struct {
	bus        mqtt.Bus
	dispatcher Dispatcher
	topics     []string
	logger     *zap.Logger
}

// NewTelemetryConsumer 创建遥测消费者
func NewTelemetryConsumer(bus mqtt.Bus, dispatcher Dispatcher, topics []string, logger *zap.Logger) *TelemetryConsumer {
	return &TelemetryConsumer{
		bus:        bus,
		dispatcher: dispatcher,
		topics:     topics,
		logger:     logger,
	}
}

// Start 注册处理函数并订阅，阻塞直到 ctx 取消
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	c.bus.OnMessage(func(msg mqtt.Message) error {
		return c.handleMessage(ctx, msg)
	})

	for _, topic := range c.topics {
		if err := c.bus.Subscribe(topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("Telemetry consumer started", zap.Strings("topics", c.topics))

	<-ctx.Done()

	// 取消订阅
	if err := c.bus.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Strings("topics", c.topics), zap.Error(err))
	}
	c.logger.Info("Telemetry consumer stopped")
	return nil
}

// handleMessage 处理单条消息，错误只记录不重试
func (c *TelemetryConsumer) handleMessage(ctx context.Context, msg mqtt.Message) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", msg.Topic),
		zap.Int("payload_size", len(msg.Payload)),
	)

	err := c.dispatcher.Dispatch(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, router.ErrDecode):
		c.logger.Warn("Dropped malformed message",
			zap.String("topic", msg.Topic),
			zap.ByteString("payload", msg.Payload),
			zap.Error(err),
		)
	case errors.Is(err, collector.ErrDelivery):
		c.logger.Error("Failed to deliver telemetry",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
	default:
		c.logger.Error("Failed to handle message",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
	}
	return err
}
