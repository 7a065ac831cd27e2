package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "imac"

// 结果标签取值
const (
	ResultOK            = "ok"
	ResultDecodeError   = "decode_error"
	ResultDeliveryError = "delivery_error"
	ResultIgnored       = "ignored"
	ResultDropped       = "dropped"
)

// Metrics 服务指标，各服务共用同一组定义，未使用的指标保持为零
type Metrics struct {
	registry *prometheus.Registry

	TelemetryMessages  *prometheus.CounterVec // 按主题与结果统计的消息数
	CollectorRequests  *prometheus.CounterVec // 按路径与结果统计的 collector 请求
	ActuatorDecisions  *prometheus.CounterVec // 控制回路决策（command / forward）
	Notifications      *prometheus.CounterVec // 按类型与结果统计的通知
	WatchdogWindow     *prometheus.GaugeVec   // 各主题当前窗口计数
	WatchdogUnknown    prometheus.Gauge       // 当前未知主题数
	UPSMergedPublishes prometheus.Counter     // UPS 合并发布次数
}

// New 创建并注册指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TelemetryMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_messages_total",
			Help:      "Bus messages handled by the telemetry bridge",
		}, []string{"topic", "result"}),

		CollectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_requests_total",
			Help:      "Outbound collector requests",
		}, []string{"path", "result"}),

		ActuatorDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_decisions_total",
			Help:      "Actuator control loop decisions",
		}, []string{"action"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "notifications_total",
			Help:      "Operator notifications by kind",
		}, []string{"kind", "result"}),

		WatchdogWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "window_count",
			Help:      "Consecutive silent window count per known topic",
		}, []string{"topic"}),

		WatchdogUnknown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "unknown_topics",
			Help:      "Unknown topics currently tracked",
		}),

		UPSMergedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ups",
			Name:      "merged_publishes_total",
			Help:      "Combined UPS documents published",
		}),
	}

	m.registry.MustRegister(
		m.TelemetryMessages,
		m.CollectorRequests,
		m.ActuatorDecisions,
		m.Notifications,
		m.WatchdogWindow,
		m.WatchdogUnknown,
		m.UPSMergedPublishes,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve 在 addr 上提供 /metrics，ctx 取消时关闭；addr 为空则直接返回
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
