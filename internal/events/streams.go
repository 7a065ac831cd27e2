package events

import (
	"context"

	redisclient "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/redis"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/router"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TelemetryMirror 把已送达 collector 的标准化记录镜像到 Redis Stream
type TelemetryMirror struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

var _ router.Mirror = (*TelemetryMirror)(nil)

// NewTelemetryMirror 创建 telemetry 镜像
func NewTelemetryMirror(client *redis.Client, stream string, logger *zap.Logger) *TelemetryMirror {
	return &TelemetryMirror{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Append 写入一条记录
func (m *TelemetryMirror) Append(ctx context.Context, record router.Record) error {
	id, err := redisclient.PublishJSONToStream(ctx, m.client, m.stream, record)
	if err != nil {
		return err
	}
	m.logger.Debug("Mirrored telemetry record",
		zap.String("stream", m.stream),
		zap.String("message_id", id),
		zap.String("path", record.Path),
	)
	return nil
}

// NotificationStream 把 watchdog 通知发布到 Redis Stream，供其他服务订阅
type NotificationStream struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

var _ watchdog.Recorder = (*NotificationStream)(nil)

// NewNotificationStream 创建通知事件流
func NewNotificationStream(client *redis.Client, stream string, logger *zap.Logger) *NotificationStream {
	return &NotificationStream{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Record 发布一条通知事件
func (s *NotificationStream) Record(ctx context.Context, n watchdog.Notification) error {
	id, err := redisclient.PublishJSONToStream(ctx, s.client, s.stream, n)
	if err != nil {
		return err
	}
	s.logger.Debug("Published watchdog notification",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("kind", string(n.Kind)),
	)
	return nil
}
