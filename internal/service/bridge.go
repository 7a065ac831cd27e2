package service

import (
	"context"
	"fmt"

	mqttcommon "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	rediscommon "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/redis"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/actuator"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/collector"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/consumer"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/events"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/router"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BridgeService 遥测桥接服务：总线 -> collector，以及 ET7044 控制回路
type BridgeService struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	router     *router.Router
	consumer   *consumer.TelemetryConsumer
}

// NewBridgeService 创建桥接服务
func NewBridgeService(cfg *config.Config, logger *zap.Logger) (*BridgeService, error) {
	m := metrics.New()

	// 1. 可选：Redis 镜像
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		client, err := rediscommon.NewRedisClient(context.Background(), &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisClient = client
	}

	// 2. 连接总线
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		closeRedis(redisClient)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// 3. collector 与路由表
	collectorClient := collector.NewClient(&cfg.Collector, m, logger)
	r := router.NewRouter(collectorClient, m, logger)
	r.RegisterHandler(router.TopicSwitchStatus,
		actuator.NewControlLoop(collectorClient, mqttClient, cfg.Bridge.ControlTopic, m, logger))
	if redisClient != nil {
		r.SetMirror(events.NewTelemetryMirror(redisClient, cfg.Bridge.MirrorStream, logger))
	}

	// 4. 消费者
	telemetryConsumer := consumer.NewTelemetryConsumer(mqttClient, r, r.Topics(), logger)

	return &BridgeService{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		redis:      redisClient,
		mqttClient: mqttClient,
		router:     r,
		consumer:   telemetryConsumer,
	}, nil
}

// Start 启动服务，阻塞直到 ctx 取消或出错
func (s *BridgeService) Start(ctx context.Context) error {
	s.logger.Info("Starting bridge service",
		zap.String("mqtt_broker", s.config.MQTT.Broker),
		zap.String("collector", s.config.Collector.BaseURL),
		zap.Bool("mirror_enabled", s.redis != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.metrics.Serve(gctx, s.config.Metrics.Addr, s.logger)
	})
	g.Go(func() error {
		return s.consumer.Start(gctx)
	})
	return g.Wait()
}

// Stop 停止服务
func (s *BridgeService) Stop() {
	s.logger.Info("Stopping bridge service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	closeRedis(s.redis)

	s.logger.Info("Bridge service stopped")
}

func closeRedis(client *redis.Client) {
	if client != nil {
		_ = client.Close()
	}
}
