package watchdog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind 通知类型
type Kind string

const (
	KindAlert     Kind = "alert"
	KindRecovered Kind = "recovered"
	KindUnknown   Kind = "unknown"
)

// Notification 一条发给运维人员的通知
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Topics    []string  `json:"topics"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}

// Sink 通知发送通道
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Recorder 通知记录（审计、事件流）
type Recorder interface {
	Record(ctx context.Context, n Notification) error
}

// SnapshotWriter 每次 tick 后保存状态快照
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snap Snapshot) error
}

// outboxSize 待发送通知队列长度，满时新通知被丢弃
const outboxSize = 16

// Scheduler 周期性结束窗口并发送通知
//
// tick 只负责状态与快照，通知交给单独的发送 goroutine；
// 发送再慢也不会拖慢窗口计数。
type Scheduler struct {
	store     *Store
	sink      Sink
	recorders []Recorder
	snapshots SnapshotWriter
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	outbox chan Notification
	now    func() time.Time
}

// NewScheduler 创建调度器
func NewScheduler(store *Store, sink Sink, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		sink:     sink,
		interval: interval,
		metrics:  m,
		logger:   logger,
		outbox:   make(chan Notification, outboxSize),
		now:      time.Now,
	}
}

// AddRecorder 追加通知记录器
func (s *Scheduler) AddRecorder(r Recorder) {
	s.recorders = append(s.recorders, r)
}

// SetSnapshotWriter 设置快照写入
func (s *Scheduler) SetSnapshotWriter(w SnapshotWriter) {
	s.snapshots = w
}

// Run 开启第一个窗口，之后每个 interval 执行一次 Tick，直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) error {
	s.store.OpenWindow()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliverLoop(ctx)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Watchdog scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Watchdog scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 评估当前窗口，保存快照，并把通知放入发送队列
//
// 状态更新在 Store 的锁内完成；发送失败只记录日志，不影响状态。
func (s *Scheduler) Tick(ctx context.Context) Evaluation {
	now := s.now()
	eval := s.store.Tick(now)
	snap := eval.State

	// 1. 更新指标
	for _, state := range snap.Topics {
		s.metrics.WatchdogWindow.WithLabelValues(state.Topic).Set(float64(state.WindowCount))
	}
	s.metrics.WatchdogUnknown.Set(float64(len(snap.Unknown)))

	// 2. 保存快照
	if s.snapshots != nil {
		if err := s.snapshots.WriteSnapshot(ctx, snap); err != nil {
			s.logger.Warn("Failed to write watchdog snapshot", zap.Error(err))
		}
	}

	// 3. 每类通知最多一条
	if len(eval.Alerting) > 0 {
		topics := make([]string, 0, len(eval.Alerting))
		for _, a := range eval.Alerting {
			topics = append(topics, a.Topic)
		}
		s.enqueue(KindAlert, topics, RenderAlert(eval.Alerting), now)
	}
	if len(eval.Recovered) > 0 {
		s.enqueue(KindRecovered, eval.Recovered, RenderRecovered(eval.Recovered), now)
	}
	if len(eval.NewUnknown) > 0 {
		s.enqueue(KindUnknown, eval.NewUnknown, RenderUnknown(eval.NewUnknown), now)
	}

	return eval
}

func (s *Scheduler) enqueue(kind Kind, topics []string, text string, at time.Time) {
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Topics:    topics,
		Text:      text,
		CreatedAt: at,
	}

	if kind == KindAlert {
		s.logger.Warn("Topics silent", zap.Strings("topics", topics))
	} else {
		s.logger.Info("Watchdog notification", zap.String("kind", string(kind)), zap.Strings("topics", topics))
	}

	select {
	case s.outbox <- n:
	default:
		s.metrics.Notifications.WithLabelValues(string(kind), metrics.ResultDropped).Inc()
		s.logger.Error("Notification queue full, dropping notification",
			zap.String("notification_id", n.ID),
			zap.String("kind", string(kind)),
		)
	}
}

func (s *Scheduler) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.outbox:
			s.deliver(ctx, n)
		}
	}
}

// deliver 发送一条通知并交给所有记录器
func (s *Scheduler) deliver(ctx context.Context, n Notification) {
	if err := s.sink.Send(ctx, n.Text); err != nil {
		n.Error = err.Error()
		s.metrics.Notifications.WithLabelValues(string(n.Kind), metrics.ResultDeliveryError).Inc()
		s.logger.Error("Failed to send notification",
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
	} else {
		n.Delivered = true
		s.metrics.Notifications.WithLabelValues(string(n.Kind), metrics.ResultOK).Inc()
	}

	for _, r := range s.recorders {
		if err := r.Record(ctx, n); err != nil {
			s.logger.Warn("Failed to record notification",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
		}
	}
}

// RenderAlert 告警文本：每行主题名左对齐 20 列，后接 tab 与告警次数
func RenderAlert(alerting []AlertedTopic) string {
	var b strings.Builder
	b.WriteString("Alert topic:\n")
	for _, a := range alerting {
		fmt.Fprintf(&b, "%-20s\t%d\n", a.Topic, a.Episode)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// RenderRecovered 恢复文本
func RenderRecovered(topics []string) string {
	return "Fixed topic:\n" + strings.Join(topics, "\n")
}

// RenderUnknown 未知主题文本
func RenderUnknown(topics []string) string {
	return "Other topic:\n" + strings.Join(topics, "\n")
}
