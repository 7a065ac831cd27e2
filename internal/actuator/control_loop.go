package actuator

import (
	"context"
	"fmt"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/mqtt"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/collector"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/models"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/router"

	"go.uber.org/zap"
)

// Action 控制回路的决策
type Action string

const (
	// ActionCommand 期望状态与设备不同：向设备下发 collector 的期望值
	ActionCommand Action = "command"
	// ActionForward 状态一致：把设备上报的状态写回 collector
	ActionForward Action = "forward"
)

// Decision 一次上报的处理结果
type Decision struct {
	Action   Action
	Desired  models.Switches
	Reported models.Switches
	Diverged []string
}

// ControlLoop ET7044 双向控制回路
//
// 信号路径: 设备 -> bridge -> collector；控制路径: collector -> bridge -> 设备。
// 每条 DOstatus 都重新读取 collector 的期望状态，不做缓存。
// 读取期望状态与后续决策之间不加锁：期间其他写入方修改期望状态时，
// 本次决策基于旧值，下一条上报会按新值重新比较。
type ControlLoop struct {
	collector    collector.Collector
	publisher    mqtt.Publisher
	controlTopic string
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

var _ router.Handler = (*ControlLoop)(nil)

// NewControlLoop 创建控制回路
func NewControlLoop(
	c collector.Collector,
	publisher mqtt.Publisher,
	controlTopic string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ControlLoop {
	return &ControlLoop{
		collector:    c,
		publisher:    publisher,
		controlTopic: controlTopic,
		metrics:      m,
		logger:       logger,
	}
}

// Handle 处理一条 ET7044/DOstatus 消息
func (l *ControlLoop) Handle(ctx context.Context, msg mqtt.Message) error {
	reported, err := models.ParseSwitchReport(msg.Payload)
	if err != nil {
		return fmt.Errorf("%w: topic %s: %v", router.ErrDecode, msg.Topic, err)
	}
	_, err = l.Reconcile(ctx, reported)
	return err
}

// Reconcile 比较期望状态与设备上报状态并执行决策
func (l *ControlLoop) Reconcile(ctx context.Context, reported models.Switches) (Decision, error) {
	// 1. 读取 collector 的期望状态
	desired, err := l.collector.GetSwitches(ctx)
	if err != nil {
		return Decision{}, err
	}

	// 2. 按名称逐一比较
	decision := Decision{
		Desired:  desired,
		Reported: reported,
		Diverged: desired.Diff(reported),
	}

	// 3. 有差异：collector 的期望值优先，下发写命令，本轮不回写上报状态
	if len(decision.Diverged) > 0 {
		decision.Action = ActionCommand
		l.metrics.ActuatorDecisions.WithLabelValues(string(ActionCommand)).Inc()

		command := desired.Command()
		if err := l.publisher.Publish(l.controlTopic, command); err != nil {
			return decision, fmt.Errorf("%w: publish %s: %v", collector.ErrDelivery, l.controlTopic, err)
		}
		l.logger.Info("Sent ET7044 write command",
			zap.String("topic", l.controlTopic),
			zap.Strings("diverged", decision.Diverged),
			zap.ByteString("command", command),
		)
		return decision, nil
	}

	// 4. 无差异：把上报状态写回 collector
	decision.Action = ActionForward
	l.metrics.ActuatorDecisions.WithLabelValues(string(ActionForward)).Inc()
	if err := l.collector.Post(ctx, collector.SwitchesPath, reported); err != nil {
		return decision, err
	}
	return decision, nil
}
