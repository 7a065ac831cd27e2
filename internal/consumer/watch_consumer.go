package consumer

import (
	"context"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"go.uber.org/zap"
)

// WatchAllTopics watchdog 订阅全部主题，以便发现未知主题
const WatchAllTopics = "#"

// WatchConsumer 把总线上的每条消息记入 watchdog 状态存储
type WatchConsumer struct {
	bus    mqtt.Bus
	store  *watchdog.Store
	logger *zap.Logger
}

// NewWatchConsumer 创建 watchdog 消费者
func NewWatchConsumer(bus mqtt.Bus, store *watchdog.Store, logger *zap.Logger) *WatchConsumer {
	return &WatchConsumer{
		bus:    bus,
		store:  store,
		logger: logger,
	}
}

// Start 订阅全部主题，阻塞直到 ctx 取消
func (c *WatchConsumer) Start(ctx context.Context) error {
	c.bus.OnMessage(c.handleMessage)

	if err := c.bus.Subscribe(WatchAllTopics); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", WatchAllTopics, err)
	}

	c.logger.Info("Watch consumer started", zap.String("topic", WatchAllTopics))

	<-ctx.Done()

	if err := c.bus.Unsubscribe(WatchAllTopics); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.String("topic", WatchAllTopics), zap.Error(err))
	}
	c.logger.Info("Watch consumer stopped")
	return nil
}

func (c *WatchConsumer) handleMessage(msg mqtt.Message) error {
	if c.store.Observe(msg.Topic, msg.Payload, msg.ReceivedAt) == watchdog.ObservedUnknown {
		c.logger.Debug("Message on unknown topic",
			zap.String("topic", msg.Topic),
			zap.Int("payload_size", len(msg.Payload)),
		)
	}
	return nil
}
