package service

import (
	"context"
	"fmt"

	mqttcommon "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/consumer"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/upsmerge"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UPSMergerService 把两台 UPS 的监控数据合并发布到 UPS_Monitor
type UPSMergerService struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	mqttClient *mqttcommon.Client
	consumer   *consumer.TelemetryConsumer
}

// NewUPSMergerService 创建 UPS 合并服务
func NewUPSMergerService(cfg *config.Config, logger *zap.Logger) (*UPSMergerService, error) {
	m := metrics.New()

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	merger := upsmerge.NewMerger(mqttClient, cfg.UPSMerger.OutputTopic, m, logger)
	upsConsumer := consumer.NewTelemetryConsumer(mqttClient, consumer.DispatchFunc(merger.Handle), merger.Topics(), logger)

	return &UPSMergerService{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		mqttClient: mqttClient,
		consumer:   upsConsumer,
	}, nil
}

// Start 启动服务，阻塞直到 ctx 取消或出错
func (s *UPSMergerService) Start(ctx context.Context) error {
	s.logger.Info("Starting UPS merger service",
		zap.String("mqtt_broker", s.config.MQTT.Broker),
		zap.String("output_topic", s.config.UPSMerger.OutputTopic),
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
func (s *UPSMergerService) Stop() {
	s.logger.Info("Stopping UPS merger service")
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	s.logger.Info("UPS merger service stopped")
}
