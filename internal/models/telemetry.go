package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PowerBox 电箱温湿度（POST /power-box）
type PowerBox struct {
	Temp float64 `json:"temp"`
	Humi float64 `json:"humi"`
}

// Current 电流（POST /air-conditioner/current/<a|b>、/water-tank）
type Current struct {
	Current float64 `json:"current"`
}

// CurrentReading "current" 主题的负载：电箱温湿度 + 两台冷气电流
type CurrentReading struct {
	Temperature *float64 `json:"Temperature"`
	Humidity    *float64 `json:"Humidity"`
	CurrentA    *float64 `json:"current_a"`
	CurrentB    *float64 `json:"current_b"`
}

// UPSStatus UPS 监控负载（UPS/<A|B>/Monitor）
type UPSStatus struct {
	Input struct {
		Line float64 `json:"line"`
		Freq float64 `json:"freq"`
		Volt float64 `json:"volt"`
	} `json:"input"`
	Output struct {
		Mode    string  `json:"mode"`
		Line    float64 `json:"line"`
		Freq    float64 `json:"freq"`
		Volt    float64 `json:"volt"`
		Amp     float64 `json:"amp"`
		Percent float64 `json:"percent"`
		Watt    float64 `json:"watt"`
	} `json:"output"`
	Battery struct {
		Status struct {
			Health        string  `json:"health"`
			Status        string  `json:"status"`
			ChargeMode    string  `json:"chargeMode"`
			Volt          float64 `json:"volt"`
			RemainPercent float64 `json:"remainPercent"`
		} `json:"status"`
		LastChange BatteryDate `json:"lastChange"`
		NextChange BatteryDate `json:"nextChange"`
	} `json:"battery"`
	Temp float64 `json:"temp"`
}

// BatteryDate 电池更换日期
type BatteryDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// upsRequiredFields UPS 负载中必须出现的字段路径
var upsRequiredFields = [][]string{
	{"input", "line"}, {"input", "freq"}, {"input", "volt"},
	{"output", "mode"}, {"output", "line"}, {"output", "freq"}, {"output", "volt"},
	{"output", "amp"}, {"output", "percent"}, {"output", "watt"},
	{"battery", "status", "health"}, {"battery", "status", "status"}, {"battery", "status", "chargeMode"},
	{"battery", "status", "volt"}, {"battery", "status", "remainPercent"},
	{"battery", "lastChange", "year"}, {"battery", "lastChange", "month"}, {"battery", "lastChange", "day"},
	{"battery", "nextChange", "year"}, {"battery", "nextChange", "month"}, {"battery", "nextChange", "day"},
	{"temp"},
}

// ParseUPSStatus 解析 UPS 监控负载，任何字段缺失或为 null 都返回错误
func ParseUPSStatus(data []byte) (*UPSStatus, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, path := range upsRequiredFields {
		if !hasField(raw, path) {
			return nil, fmt.Errorf("missing field %s", strings.Join(path, "."))
		}
	}

	var status UPSStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func hasField(doc map[string]any, path []string) bool {
	v, ok := doc[path[0]]
	if !ok || v == nil {
		return false
	}
	if len(path) == 1 {
		return true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return hasField(child, path[1:])
}
