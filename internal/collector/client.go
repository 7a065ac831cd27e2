package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrDelivery collector 不可达、超时或返回非 2xx
var ErrDelivery = errors.New("collector delivery failed")

// SwitchesPath ET7044 期望状态的读写路径
const SwitchesPath = "/et7044"

// Collector collector 的请求/响应能力
type Collector interface {
	Post(ctx context.Context, path string, body any) error
	GetSwitches(ctx context.Context) (models.Switches, error)
}

// Client 基于 resty 的 collector 客户端
//
// 每个样本最多发送一次：不重试、不排队。失败的样本直接丢弃并返回 ErrDelivery。
type Client struct {
	httpClient *resty.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

var _ Collector = (*Client)(nil)

// NewClient 创建 collector 客户端
func NewClient(cfg *config.HTTPConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		metrics:    m,
		logger:     logger,
	}
}

// Post 写入一条标准化记录
func (c *Client) Post(ctx context.Context, path string, body any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		c.metrics.CollectorRequests.WithLabelValues(path, metrics.ResultDeliveryError).Inc()
		return fmt.Errorf("%w: POST %s: %v", ErrDelivery, path, err)
	}
	if !resp.IsSuccess() {
		c.metrics.CollectorRequests.WithLabelValues(path, metrics.ResultDeliveryError).Inc()
		return fmt.Errorf("%w: POST %s: status %d: %s", ErrDelivery, path, resp.StatusCode(), resp.String())
	}

	c.metrics.CollectorRequests.WithLabelValues(path, metrics.ResultOK).Inc()
	c.logger.Info("POST "+path,
		zap.Int("status_code", resp.StatusCode()),
		zap.ByteString("response", resp.Body()),
	)
	return nil
}

// GetSwitches 读取 collector 保存的 ET7044 期望状态
func (c *Client) GetSwitches(ctx context.Context) (models.Switches, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(SwitchesPath)
	if err != nil {
		c.metrics.CollectorRequests.WithLabelValues(SwitchesPath, metrics.ResultDeliveryError).Inc()
		return models.Switches{}, fmt.Errorf("%w: GET %s: %v", ErrDelivery, SwitchesPath, err)
	}
	if !resp.IsSuccess() {
		c.metrics.CollectorRequests.WithLabelValues(SwitchesPath, metrics.ResultDeliveryError).Inc()
		return models.Switches{}, fmt.Errorf("%w: GET %s: status %d", ErrDelivery, SwitchesPath, resp.StatusCode())
	}

	var desired models.Switches
	if err := json.Unmarshal(resp.Body(), &desired); err != nil {
		c.metrics.CollectorRequests.WithLabelValues(SwitchesPath, metrics.ResultDeliveryError).Inc()
		return models.Switches{}, fmt.Errorf("%w: GET %s: malformed body: %v", ErrDelivery, SwitchesPath, err)
	}

	c.metrics.CollectorRequests.WithLabelValues(SwitchesPath, metrics.ResultOK).Inc()
	c.logger.Debug("GET "+SwitchesPath, zap.Any("desired", desired.ByName()))
	return desired, nil
}
