package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotification 通知发送失败
var ErrNotification = errors.New("notification failed")

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramSink 通过 Bot API sendMessage 把通知发给维护者
type TelegramSink struct {
	httpClient *resty.Client
	token      string
	chatID     int64
	logger     *zap.Logger
}

var _ watchdog.Sink = (*TelegramSink)(nil)

// NewTelegramSink 创建 Telegram 通知通道
func NewTelegramSink(cfg *config.HTTPConfig, token string, chatID int64, logger *zap.Logger) *TelegramSink {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &TelegramSink{
		httpClient: client,
		token:      token,
		chatID:     chatID,
		logger:     logger,
	}
}

// Send 发送一条文本消息
func (t *TelegramSink) Send(ctx context.Context, text string) error {
	var result sendMessageResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(sendMessageRequest{ChatID: t.chatID, Text: text}).
		SetResult(&result).
		SetError(&result).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("%w: sendMessage: %v", ErrNotification, err)
	}
	if !resp.IsSuccess() || !result.OK {
		return fmt.Errorf("%w: sendMessage: status %d: %s", ErrNotification, resp.StatusCode(), result.Description)
	}

	t.logger.Debug("Telegram message sent",
		zap.Int64("chat_id", t.chatID),
		zap.Int("length", len(text)),
	)
	return nil
}

// LogSink 未配置 bot token 时只写日志
type LogSink struct {
	logger *zap.Logger
}

var _ watchdog.Sink = (*LogSink)(nil)

// NewLogSink 创建日志通知通道
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send 记录通知内容
func (l *LogSink) Send(_ context.Context, text string) error {
	l.logger.Info("Notification (no telegram token configured)", zap.String("text", text))
	return nil
}

// NewSink 根据配置选择通知通道
func NewSink(cfg *config.HTTPConfig, token string, chatID int64, logger *zap.Logger) watchdog.Sink {
	if token == "" {
		logger.Warn("TELEGRAM_ACCESS_TOKEN not set, notifications are only logged")
		return NewLogSink(logger)
	}
	return NewTelegramSink(cfg, token, chatID, logger)
}
