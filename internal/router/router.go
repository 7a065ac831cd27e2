package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/collector"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"

	"go.uber.org/zap"
)

// ErrDecode 负载不符合主题要求的格式
var ErrDecode = errors.New("payload decode failed")

// Request 一次发往 collector 的写请求
type Request struct {
	Path string
	Body any
}

// TransformFunc 把一条总线消息转换为一个或多个 collector 请求
type TransformFunc func(topic string, payload []byte) ([]Request, error)

// Handler 需要自定义处理的主题（如 ET7044 控制回路）
type Handler interface {
	Handle(ctx context.Context, msg mqtt.Message) error
}

// Record 已成功写入 collector 的标准化记录
type Record struct {
	Topic      string    `json:"topic"`
	Path       string    `json:"path"`
	Body       any       `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Mirror 标准化记录的旁路输出（可选）
type Mirror interface {
	Append(ctx context.Context, record Record) error
}

// Router 主题路由表：主题 -> 转换函数 -> collector 端点
//
// Router 本身无状态，每条消息独立处理。
type Router struct {
	collector  collector.Collector
	transforms map[string]TransformFunc
	handlers   map[string]Handler
	topics     []string
	mirror     Mirror
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRouter 创建路由并注册默认路由表
func NewRouter(c collector.Collector, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := &Router{
		collector:  c,
		transforms: make(map[string]TransformFunc),
		handlers:   make(map[string]Handler),
		metrics:    m,
		logger:     logger,
	}
	registerDefaultRoutes(r)
	return r
}

// Route 注册一个转换路由
func (r *Router) Route(topic string, fn TransformFunc) {
	if _, ok := r.transforms[topic]; !ok {
		if _, ok := r.handlers[topic]; !ok {
			r.topics = append(r.topics, topic)
		}
	}
	r.transforms[topic] = fn
}

// RegisterHandler 为主题注册自定义处理器，优先于转换路由
func (r *Router) RegisterHandler(topic string, h Handler) {
	if _, ok := r.handlers[topic]; !ok {
		if _, ok := r.transforms[topic]; !ok {
			r.topics = append(r.topics, topic)
		}
	}
	r.handlers[topic] = h
}

// SetMirror 设置旁路输出
func (r *Router) SetMirror(m Mirror) {
	r.mirror = m
}

// Topics 返回需要订阅的主题（按注册顺序）
func (r *Router) Topics() []string {
	out := make([]string, len(r.topics))
	copy(out, r.topics)
	return out
}

// Dispatch 处理一条消息
//
// 解码失败返回 ErrDecode，不发出任何请求；扇出的各请求互不影响，
// 失败的请求以 errors.Join 合并返回（包装 collector.ErrDelivery）。
func (r *Router) Dispatch(ctx context.Context, msg mqtt.Message) error {
	if h, ok := r.handlers[msg.Topic]; ok {
		err := h.Handle(ctx, msg)
		r.metrics.TelemetryMessages.WithLabelValues(msg.Topic, Result(err)).Inc()
		return err
	}

	fn, ok := r.transforms[msg.Topic]
	if !ok {
		r.logger.Debug("No route for topic", zap.String("topic", msg.Topic))
		r.metrics.TelemetryMessages.WithLabelValues(msg.Topic, metrics.ResultIgnored).Inc()
		return nil
	}

	requests, err := fn(msg.Topic, msg.Payload)
	if err != nil {
		r.metrics.TelemetryMessages.WithLabelValues(msg.Topic, metrics.ResultDecodeError).Inc()
		return fmt.Errorf("%w: topic %s: %v", ErrDecode, msg.Topic, err)
	}

	var errs []error
	for _, req := range requests {
		if err := r.collector.Post(ctx, req.Path, req.Body); err != nil {
			errs = append(errs, err)
			continue
		}
		r.appendMirror(ctx, msg, req)
	}

	if len(errs) > 0 {
		r.metrics.TelemetryMessages.WithLabelValues(msg.Topic, metrics.ResultDeliveryError).Inc()
		return errors.Join(errs...)
	}

	r.metrics.TelemetryMessages.WithLabelValues(msg.Topic, metrics.ResultOK).Inc()
	return nil
}

func (r *Router) appendMirror(ctx context.Context, msg mqtt.Message, req Request) {
	if r.mirror == nil {
		return
	}
	record := Record{
		Topic:      msg.Topic,
		Path:       req.Path,
		Body:       req.Body,
		ReceivedAt: msg.ReceivedAt,
	}
	if err := r.mirror.Append(ctx, record); err != nil {
		r.logger.Warn("Failed to mirror record",
			zap.String("topic", msg.Topic),
			zap.String("path", req.Path),
			zap.Error(err),
		)
	}
}

// Result 把错误归类为指标标签
func Result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrDecode):
		return metrics.ResultDecodeError
	default:
		return metrics.ResultDeliveryError
	}
}
