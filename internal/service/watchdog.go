package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/database"
	mqttcommon "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	rediscommon "github.com/goldshadow0731/IMAC-TelegramBot-V2/common/redis"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/consumer"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/events"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/notifier"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/repository"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// recentNotificationLimit 启动时读取的最近通知条数
const recentNotificationLimit = 10

// WatchdogService 主题存活监控服务
type WatchdogService struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	db         *sql.DB
	auditLog   *repository.NotificationLogRepository
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	snapshots  *events.SnapshotStore
	scheduler  *watchdog.Scheduler
	consumer   *consumer.WatchConsumer
}

// NewWatchdogService 创建 watchdog 服务
func NewWatchdogService(cfg *config.Config, logger *zap.Logger) (*WatchdogService, error) {
	ctx := context.Background()
	s := &WatchdogService{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	// 1. 状态存储与调度器
	store := watchdog.NewStore(cfg.Watchdog.Topics, cfg.Watchdog.ExceptionTopics, cfg.Watchdog.UnknownTTL)
	sink := notifier.NewSink(&cfg.Telegram.HTTPConfig, cfg.Telegram.AccessToken, cfg.Telegram.DevUserID, logger)
	s.scheduler = watchdog.NewScheduler(store, sink, cfg.Watchdog.Interval, s.metrics, logger)

	// 2. 可选：通知审计表
	if cfg.Database.Enabled() {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		repo := repository.NewNotificationLogRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			s.Stop()
			return nil, err
		}
		s.auditLog = repo
		s.scheduler.AddRecorder(repo)
	}

	// 3. 可选：通知事件流与状态快照
	if cfg.Redis.Enabled() {
		client, err := rediscommon.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client

		s.scheduler.AddRecorder(events.NewNotificationStream(client, cfg.Watchdog.EventStream, logger))
		s.snapshots = events.NewSnapshotStore(events.NewRedisKVStore(client), cfg.Watchdog.SnapshotKey, cfg.Watchdog.Interval)
		s.scheduler.SetSnapshotWriter(s.snapshots)
	}

	// 4. 连接总线
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		s.Stop()
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	s.mqttClient = mqttClient
	s.consumer = consumer.NewWatchConsumer(mqttClient, store, logger)

	return s, nil
}

// Start 启动服务，阻塞直到 ctx 取消或出错
func (s *WatchdogService) Start(ctx context.Context) error {
	s.logger.Info("Starting watchdog service",
		zap.Strings("topics", s.config.Watchdog.Topics),
		zap.Strings("exception_topics", s.config.Watchdog.ExceptionTopics),
		zap.Duration("interval", s.config.Watchdog.Interval),
	)
	s.logPreviousSnapshot(ctx)
	s.logRecentNotifications(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.metrics.Serve(gctx, s.config.Metrics.Addr, s.logger)
	})
	g.Go(func() error {
		return s.consumer.Start(gctx)
	})
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	return g.Wait()
}

// logPreviousSnapshot 上一次运行留下的快照仅用于日志，状态总是从初始值开始
func (s *WatchdogService) logPreviousSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	snap, err := s.snapshots.LatestSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, events.ErrCacheMiss) {
			s.logger.Warn("Failed to read previous watchdog snapshot", zap.Error(err))
		}
		return
	}

	var silent []string
	for _, state := range snap.Topics {
		if state.AlertActive && state.WindowCount > 1 {
			silent = append(silent, state.Topic)
		}
	}
	s.logger.Info("Previous watchdog snapshot found",
		zap.Time("at", snap.At),
		zap.Strings("silent_topics", silent),
		zap.Int("unknown_topics", len(snap.Unknown)),
	)
}

// logRecentNotifications 启动时输出审计表中最近的通知，便于确认上次运行的告警是否送达
func (s *WatchdogService) logRecentNotifications(ctx context.Context) {
	if s.auditLog == nil {
		return
	}
	entries, err := s.auditLog.ListRecent(ctx, recentNotificationLimit)
	if err != nil {
		s.logger.Warn("Failed to list recent notifications", zap.Error(err))
		return
	}

	undelivered := 0
	for _, entry := range entries {
		if !entry.Delivered {
			undelivered++
		}
		s.logger.Debug("Recent watchdog notification",
			zap.String("notification_id", entry.ID),
			zap.String("kind", string(entry.Kind)),
			zap.Strings("topics", entry.Topics),
			zap.Bool("delivered", entry.Delivered),
			zap.Time("created_at", entry.CreatedAt),
		)
	}
	s.logger.Info("Recent watchdog notifications",
		zap.Int("count", len(entries)),
		zap.Int("undelivered", undelivered),
	)
}

// Stop 停止服务
func (s *WatchdogService) Stop() {
	s.logger.Info("Stopping watchdog service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	closeRedis(s.redis)
	if s.db != nil {
		_ = s.db.Close()
	}

	s.logger.Info("Watchdog service stopped")
}
