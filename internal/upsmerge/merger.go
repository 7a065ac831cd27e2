package upsmerge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/models"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/router"

	"go.uber.org/zap"
)

const (
	lifeOnline     = "onLine(在線)"
	remainCharging = "None By Charging (充電中)"
)

// device 一台 UPS 的后缀与串口描述
type device struct {
	suffix  string
	connect string
}

var devices = map[string]device{
	router.TopicUPSA: {suffix: "A", connect: "/dev/ttyUSB0 (牆壁)"},
	router.TopicUPSB: {suffix: "B", connect: "/dev/ttyUSB1 (窗戶)"},
}

// Merger 把 UPS/A 与 UPS/B 的监控数据合并成一份文档
//
// 两台 UPS 都上报过之后发布一次合并结果并清空，等待下一轮。
// 同一台在一轮内重复上报时以最新数据为准。
type Merger struct {
	publisher   mqtt.Publisher
	outputTopic string
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[string]map[string]any // suffix -> 该设备的字段
}

var _ router.Handler = (*Merger)(nil)

// NewMerger 创建合并器
func NewMerger(publisher mqtt.Publisher, outputTopic string, m *metrics.Metrics, logger *zap.Logger) *Merger {
	return &Merger{
		publisher:   publisher,
		outputTopic: outputTopic,
		metrics:     m,
		logger:      logger,
		pending:     make(map[string]map[string]any),
	}
}

// Topics 需要订阅的主题
func (m *Merger) Topics() []string {
	return []string{router.TopicUPSA, router.TopicUPSB}
}

// Handle 处理一条 UPS 监控消息
func (m *Merger) Handle(_ context.Context, msg mqtt.Message) error {
	dev, ok := devices[msg.Topic]
	if !ok {
		return nil
	}

	status, err := models.ParseUPSStatus(msg.Payload)
	if err != nil {
		return fmt.Errorf("%w: topic %s: %v", router.ErrDecode, msg.Topic, err)
	}

	m.mu.Lock()
	m.pending[dev.suffix] = sectionFor(dev, status)
	if len(m.pending) < len(devices) {
		m.mu.Unlock()
		return nil
	}
	merged := make(map[string]any)
	for _, fields := range m.pending {
		for k, v := range fields {
			merged[k] = v
		}
	}
	m.pending = make(map[string]map[string]any)
	m.mu.Unlock()

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal merged UPS document: %w", err)
	}
	if err := m.publisher.Publish(m.outputTopic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", m.outputTopic, err)
	}

	m.metrics.UPSMergedPublishes.Inc()
	m.logger.Info("Published merged UPS document",
		zap.String("topic", m.outputTopic),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// sectionFor 生成带设备后缀的字段
func sectionFor(dev device, s *models.UPSStatus) map[string]any {
	key := func(name string) string { return name + "_" + dev.suffix }

	mode := s.Output.Mode
	if i := strings.Index(mode, " "); i >= 0 {
		mode = mode[:i]
	}

	return map[string]any{
		key("connect"):  dev.connect,
		key("ups_Life"): lifeOnline,
		key("input"): map[string]any{
			key("inputLine"): s.Input.Line,
			key("inputFreq"): s.Input.Freq,
			key("inputVolt"): s.Input.Volt,
		},
		key("output"): map[string]any{
			key("systemMode"):    mode,
			key("outputLine"):    s.Output.Line,
			key("outputFreq"):    s.Output.Freq,
			key("outputVolt"):    s.Output.Volt,
			key("outputAmp"):     s.Output.Amp,
			key("outputPercent"): s.Output.Percent,
			key("outputWatt"):    s.Output.Watt,
		},
		key("battery"): map[string]any{
			"status": map[string]any{
				key("batteryHealth"):         s.Battery.Status.Health,
				key("batteryStatus"):         s.Battery.Status.Status,
				key("batteryCharge_Mode"):    s.Battery.Status.ChargeMode,
				key("batteryVolt"):           s.Battery.Status.Volt,
				key("batteryTemp"):           s.Temp,
				key("batteryRemain_Percent"): s.Battery.Status.RemainPercent,
				key("batteryRemain_Min"):     remainCharging,
				key("batteryRemain_Sec"):     remainCharging,
			},
			"lastChange": batteryDate("lastBattery", dev.suffix, s.Battery.LastChange),
			"nextChange": batteryDate("nextBattery", dev.suffix, s.Battery.NextChange),
		},
	}
}

func batteryDate(prefix, suffix string, d models.BatteryDate) map[string]any {
	return map[string]any{
		prefix + "_Year_" + suffix: d.Year,
		prefix + "_Mon_" + suffix:  d.Month,
		prefix + "_Day_" + suffix:  d.Day,
	}
}
