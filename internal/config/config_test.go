package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load("imac-watchdog")
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.True(t, strings.HasPrefix(cfg.MQTT.ClientID, "imac-watchdog-"))
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, 5*time.Second, cfg.MQTT.PublishTimeout)

	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "imac", cfg.Database.Database)

	assert.Equal(t, "http://localhost:5000", cfg.Collector.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Telegram.Timeout)
	assert.Equal(t, "", cfg.Telegram.AccessToken)
	assert.Equal(t, int64(0), cfg.Telegram.DevUserID)

	assert.Equal(t, "ET7044/write", cfg.Bridge.ControlTopic)
	assert.Equal(t, "telemetry:stream", cfg.Bridge.MirrorStream)

	assert.Equal(t, 20*time.Second, cfg.Watchdog.Interval)
	assert.Equal(t, 3*time.Minute, cfg.Watchdog.UnknownTTL)
	assert.Equal(t, DefaultWatchTopics, cfg.Watchdog.Topics)
	assert.Equal(t, []string{"ET7044/write"}, cfg.Watchdog.ExceptionTopics)
	assert.Equal(t, "watchdog:notifications", cfg.Watchdog.EventStream)
	assert.Equal(t, "watchdog:topics", cfg.Watchdog.SnapshotKey)

	assert.Equal(t, "UPS_Monitor", cfg.UPSMerger.OutputTopic)
	assert.Equal(t, "", cfg.Metrics.Addr)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 7, cfg.Log.MaxBackups)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "bridge-1")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MQTT_INBOX_SIZE", "1024")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_NAME", "imac_test")
	t.Setenv("COLLECTOR_BASE_URL", "http://collector:5000")
	t.Setenv("COLLECTOR_TIMEOUT", "2s")
	t.Setenv("TELEGRAM_ACCESS_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_DEV_USER_ID", "987654321")
	t.Setenv("WATCHDOG_INTERVAL", "1s")
	t.Setenv("WATCHDOG_TOPICS", "DL303/TC, current ,,waterTank")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("imac-bridge")
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "bridge-1", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 1024, cfg.MQTT.InboxSize)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "imac_test", cfg.Database.Database)
	assert.Equal(t, "http://collector:5000", cfg.Collector.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, "123:abc", cfg.Telegram.AccessToken)
	assert.Equal(t, int64(987654321), cfg.Telegram.DevUserID)
	assert.Equal(t, time.Second, cfg.Watchdog.Interval)
	assert.Equal(t, []string{"DL303/TC", "current", "waterTank"}, cfg.Watchdog.Topics)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"MQTT_QOS":             "3",
		"MQTT_INBOX_SIZE":      "0",
		"COLLECTOR_TIMEOUT":    "soon",
		"TELEGRAM_DEV_USER_ID": "maintainer",
		"WATCHDOG_INTERVAL":    "0s",
		"REDIS_DB":             "x",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(key, value)
			_, err := Load("imac-watchdog")
			assert.Error(t, err)
		})
	}
}

func TestLoad_TelegramTokenRequiresUserID(t *testing.T) {
	os.Clearenv()
	t.Setenv("TELEGRAM_ACCESS_TOKEN", "123:abc")

	_, err := Load("imac-watchdog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_DEV_USER_ID")

	t.Setenv("TELEGRAM_DEV_USER_ID", "42")
	cfg, err := Load("imac-watchdog")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Telegram.DevUserID)
}

func TestGetEnv(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))

	t.Setenv("TEST_KEY", "env-value")
	assert.Equal(t, "env-value", getEnv("TEST_KEY", "default-value"))
}

func TestDefaultWatchTopicsNotShared(t *testing.T) {
	os.Clearenv()
	cfg, err := Load("imac-watchdog")
	require.NoError(t, err)

	cfg.Watchdog.Topics[0] = "mutated"
	assert.Equal(t, "DL303/TC", DefaultWatchTopics[0])
}
