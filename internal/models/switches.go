package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SwitchCount ET7044 的 DO 通道数
const SwitchCount = 8

// Switches ET7044 开关状态，按名称 sw0..sw7 排列
//
// collector 保存的期望状态以对象 {"sw0": true, ...} 传输；
// 设备上报的状态是按通道顺序排列的 JSON 数组。
type Switches [SwitchCount]bool

// SwitchName 返回第 i 路开关的名称
func SwitchName(i int) string {
	return "sw" + strconv.Itoa(i)
}

// switchIndex 解析开关名称，非法名称返回 -1
func switchIndex(name string) int {
	if !strings.HasPrefix(name, "sw") {
		return -1
	}
	i, err := strconv.Atoi(strings.TrimPrefix(name, "sw"))
	if err != nil || i < 0 || i >= SwitchCount {
		return -1
	}
	return i
}

// ByName 以名称为键的视图
func (s Switches) ByName() map[string]bool {
	out := make(map[string]bool, SwitchCount)
	for i, on := range s {
		out[SwitchName(i)] = on
	}
	return out
}

// Diff 返回与 other 状态不同的开关名称（按名称比较）
func (s Switches) Diff(other Switches) []string {
	mine, theirs := s.ByName(), other.ByName()
	var diff []string
	for i := 0; i < SwitchCount; i++ {
		name := SwitchName(i)
		if mine[name] != theirs[name] {
			diff = append(diff, name)
		}
	}
	return diff
}

// MarshalJSON 编码为 {"sw0": bool, ... "sw7": bool}
func (s Switches) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ByName())
}

// UnmarshalJSON 从对象解码；缺失的开关视为 false，未知键忽略
func (s *Switches) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Switches
	for name, on := range raw {
		if i := switchIndex(name); i >= 0 {
			out[i] = on
		}
	}
	*s = out
	return nil
}

// Command 生成下发给设备的写命令：按通道顺序的布尔数组
func (s Switches) Command() []byte {
	data, _ := json.Marshal([SwitchCount]bool(s))
	return data
}

// ParseSwitchReport 解析设备上报的 DOstatus（布尔数组，长度必须为 8）
func ParseSwitchReport(payload []byte) (Switches, error) {
	var values []bool
	if err := json.Unmarshal(payload, &values); err != nil {
		return Switches{}, fmt.Errorf("switch report is not a boolean array: %w", err)
	}
	if len(values) != SwitchCount {
		return Switches{}, fmt.Errorf("switch report has %d channels, want %d", len(values), SwitchCount)
	}
	var out Switches
	copy(out[:], values)
	return out, nil
}
