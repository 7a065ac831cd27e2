package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	// subscribeTimeout 订阅确认的最长等待时间
	subscribeTimeout = 10 * time.Second
	// defaultInboxSize 消息分发队列默认长度
	defaultInboxSize = 256
)

// Message 总线消息（主题、原始负载、到达时间）
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// MessageHandler 消息处理函数类型
type MessageHandler func(msg Message) error

// Publisher 发布能力
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Bus 事件订阅能力，由任意总线客户端实现
type Bus interface {
	Publisher
	Subscribe(topic string) error
	Unsubscribe(topics ...string) error
	OnMessage(handler MessageHandler)
}

// Client MQTT客户端封装
//
// 所有订阅的消息都进入同一个队列，由单个 goroutine 按到达顺序分发给已注册的 handler。
// 连接断开后由 paho 自动重连，重连成功时重新订阅所有通过 Subscribe 记录的主题。
//
// 队列满时 paho 的接收路由会阻塞（SetOrderMatters），PINGRESP/PUBACK 也无法读取；
// handler 长时间变慢会导致 keepalive 超时并反复重连，可通过 MQTTConfig.InboxSize 调大队列。
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger

	mu       sync.RWMutex
	topics   []string
	handlers []MessageHandler

	inbox     chan Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Bus = (*Client)(nil)

// NewClient 创建MQTT客户端并连接
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	c := &Client{
		config: cfg,
		logger: logger,
		inbox:  make(chan Message, size),
		done:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.logger.Info("Reconnecting to MQTT broker", zap.String("broker", cfg.Broker))
	})

	c.client = mqtt.NewClient(opts)

	c.wg.Add(1)
	go c.dispatchLoop()

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		c.stopDispatch()
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return c, nil
}

// Subscribe 订阅主题；主题会被记录下来，重连后自动重新订阅
func (c *Client) Subscribe(topic string) error {
	c.mu.Lock()
	known := false
	for _, t := range c.topics {
		if t == topic {
			known = true
			break
		}
	}
	if !known {
		c.topics = append(c.topics, topic)
	}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		// 连接恢复时 onConnect 会完成订阅
		return nil
	}
	return c.subscribe(c.client, topic)
}

// OnMessage 注册消息处理函数，每条消息都会交给所有已注册的 handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

// Subscriptions 返回当前记录的订阅主题
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

// Publish 发布消息，等待时间不超过 PublishTimeout
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.config.QoS, false, payload)

	if c.config.PublishTimeout > 0 {
		if !token.WaitTimeout(c.config.PublishTimeout) {
			return fmt.Errorf("publish to topic %s timed out after %s", topic, c.config.PublishTimeout)
		}
	} else {
		token.Wait()
	}

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	remaining := c.topics[:0]
	for _, t := range c.topics {
		drop := false
		for _, u := range topics {
			if t == u {
				drop = true
				break
			}
		}
		if !drop {
			remaining = append(remaining, t)
		}
	}
	c.topics = remaining
	c.mu.Unlock()

	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("unsubscribe timed out")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接并停止分发
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
	c.stopDispatch()
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) subscribe(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, c.config.QoS, c.receive)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// onConnect 首次连接与每次重连成功后调用，重新建立订阅
func (c *Client) onConnect(client mqtt.Client) {
	topics := c.Subscriptions()
	c.logger.Info("Connected to MQTT broker",
		zap.String("broker", c.config.Broker),
		zap.Strings("topics", topics),
	)

	for _, topic := range topics {
		if err := c.subscribe(client, topic); err != nil {
			c.logger.Error("Failed to resubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", zap.String("broker", c.config.Broker), zap.Error(err))
}

// receive paho 回调：只负责入队，保持 paho 的接收路由不被 handler 阻塞
func (c *Client) receive(_ mqtt.Client, msg mqtt.Message) {
	m := Message{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		ReceivedAt: time.Now(),
	}
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.inbox:
			c.dispatch(m)
		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatch(m Message) {
	c.mu.RLock()
	handlers := make([]MessageHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(m); err != nil {
			// 记录错误，但不中断处理
			c.logger.Debug("Error handling MQTT message",
				zap.String("topic", m.Topic),
				zap.Error(err),
			)
		}
	}
}

func (c *Client) stopDispatch() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}
