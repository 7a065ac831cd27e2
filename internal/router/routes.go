package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/models"
)

// 遥测主题
const (
	TopicDL303TC       = "DL303/TC"
	TopicDL303RH       = "DL303/RH"
	TopicDL303DC       = "DL303/DC"
	TopicDL303CO2      = "DL303/CO2"
	TopicSwitchStatus  = "ET7044/DOstatus"
	TopicUPSA          = "UPS/A/Monitor"
	TopicUPSB          = "UPS/B/Monitor"
	TopicWaterTank     = "waterTank"
	TopicCurrent       = "current"
	TopicAirConditionA = "air_condiction/A"
	TopicAirConditionB = "air_condiction/B"
)

func registerDefaultRoutes(r *Router) {
	for _, topic := range []string{TopicDL303TC, TopicDL303RH, TopicDL303DC, TopicDL303CO2} {
		r.Route(topic, dl303)
	}
	r.Route(TopicUPSA, ups)
	r.Route(TopicUPSB, ups)
	r.Route(TopicWaterTank, object("/water-tank"))
	r.Route(TopicCurrent, current)
	r.Route(TopicAirConditionA, airConditionEnvironment)
	r.Route(TopicAirConditionB, airConditionEnvironment)
}

// dl303 DL303/<FIELD> -> POST /dl303/<field> {"<field>": number}
func dl303(topic string, payload []byte) ([]Request, error) {
	field := strings.ToLower(topicSuffix(topic))
	value, err := parseNumber(payload)
	if err != nil {
		return nil, err
	}
	return []Request{{
		Path: "/dl303/" + field,
		Body: map[string]float64{field: value},
	}}, nil
}

// ups UPS/<A|B>/Monitor -> POST /ups/<a|b>，负载原样转发
func ups(topic string, payload []byte) ([]Request, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected UPS topic %q", topic)
	}
	body, err := parseObject(payload)
	if err != nil {
		return nil, err
	}
	return []Request{{Path: "/ups/" + strings.ToLower(parts[1]), Body: body}}, nil
}

// airConditionEnvironment air_condiction/<A|B> -> POST /air-conditioner/environment/<a|b>
func airConditionEnvironment(topic string, payload []byte) ([]Request, error) {
	body, err := parseObject(payload)
	if err != nil {
		return nil, err
	}
	return []Request{{
		Path: "/air-conditioner/environment/" + strings.ToLower(topicSuffix(topic)),
		Body: body,
	}}, nil
}

// object 负载原样转发到固定路径
func object(path string) TransformFunc {
	return func(_ string, payload []byte) ([]Request, error) {
		body, err := parseObject(payload)
		if err != nil {
			return nil, err
		}
		return []Request{{Path: path, Body: body}}, nil
	}
}

// current 一条消息扇出为三个请求：电箱温湿度、冷气 A/B 电流
func current(_ string, payload []byte) ([]Request, error) {
	var reading models.CurrentReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, err
	}

	var missing []string
	if reading.Temperature == nil {
		missing = append(missing, "Temperature")
	}
	if reading.Humidity == nil {
		missing = append(missing, "Humidity")
	}
	if reading.CurrentA == nil {
		missing = append(missing, "current_a")
	}
	if reading.CurrentB == nil {
		missing = append(missing, "current_b")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing fields %s", strings.Join(missing, ","))
	}

	return []Request{
		{Path: "/power-box", Body: models.PowerBox{Temp: *reading.Temperature, Humi: *reading.Humidity}},
		{Path: "/air-conditioner/current/a", Body: models.Current{Current: *reading.CurrentA}},
		{Path: "/air-conditioner/current/b", Body: models.Current{Current: *reading.CurrentB}},
	}, nil
}

// parseNumber 解析单个数值字面量
func parseNumber(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("not a finite number: %q", text)
	}
	return value, nil
}

// parseObject 确认负载是 JSON 对象并返回紧凑形式
func parseObject(payload []byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("payload is null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func topicSuffix(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
