package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullUPSPayload = `{
	"input": {"line": 1, "freq": 60, "volt": 220},
	"output": {"mode": "Normal", "line": 1, "freq": 60, "volt": 220, "amp": 2, "percent": 10, "watt": 400},
	"battery": {
		"status": {"health": "Good", "status": "Full", "chargeMode": "Float", "volt": 27, "remainPercent": 100},
		"lastChange": {"year": 2024, "month": 1, "day": 1},
		"nextChange": {"year": 2027, "month": 1, "day": 1}
	},
	"temp": 30
}`

func TestParseUPSStatus(t *testing.T) {
	s, err := ParseUPSStatus([]byte(fullUPSPayload))
	require.NoError(t, err)
	assert.Equal(t, "Normal", s.Output.Mode)
	assert.Equal(t, 27.0, s.Battery.Status.Volt)
	assert.Equal(t, BatteryDate{Year: 2027, Month: 1, Day: 1}, s.Battery.NextChange)
	assert.Equal(t, 30.0, s.Temp)
}

func TestParseUPSStatus_MissingFields(t *testing.T) {
	cases := map[string]string{
		"empty object":       `{}`,
		"unrelated keys":     `{"foo":1}`,
		"null section":       `{"input":null,"output":{},"battery":{},"temp":1}`,
		"section not object": `{"input":[1,2,3]}`,
		"not json":           `{broken`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUPSStatus([]byte(payload))
			assert.Error(t, err)
		})
	}

	_, err := ParseUPSStatus([]byte(`{"input":{"line":1,"freq":60,"volt":220}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.mode")
}
