package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/config"

	"github.com/google/uuid"
)

// DefaultWatchTopics 默认监控的主题列表
var DefaultWatchTopics = []string{
	"DL303/TC",
	"DL303/RH",
	"DL303/DC",
	"DL303/CO",
	"DL303/CO2",
	"UPS_Monitor",
	"UPS/A/Monitor",
	"UPS/B/Monitor",
	"current",
	"waterTank",
	"air_condiction/A",
	"air_condiction/B",
}

// DefaultExceptionTopics 只用于控制的主题，不计入未知主题
var DefaultExceptionTopics = []string{"ET7044/write"}

// Config IMAC 服务配置（bridge / watchdog / ups-merger 共用）
type Config struct {
	Service string

	MQTT      config.MQTTConfig
	Redis     config.RedisConfig
	Database  config.DatabaseConfig
	Collector config.HTTPConfig

	Telegram struct {
		config.HTTPConfig
		AccessToken string
		DevUserID   int64
	}

	Bridge struct {
		ControlTopic string // 下发给 ET7044 的主题
		MirrorStream string // 标准化数据镜像 stream
	}

	Watchdog struct {
		Interval        time.Duration
		UnknownTTL      time.Duration
		Topics          []string
		ExceptionTopics []string
		EventStream     string
		SnapshotKey     string
	}

	UPSMerger struct {
		OutputTopic string
	}

	Metrics struct {
		Addr string
	}

	Log struct {
		Level      string
		Format     string
		File       string
		MaxBackups int
	}
}

// Load 加载配置
func Load(service string) (*Config, error) {
	cfg := &Config{Service: service}

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = fmt.Sprintf("%s-%s", service, uuid.NewString()[:8])
	cfg.MQTT.PublishTimeout = 5 * time.Second
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}

	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "imac"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 4
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	cfg.Collector.BaseURL = "http://localhost:5000"
	cfg.Collector.Timeout = 5 * time.Second
	if err := cfg.Collector.LoadFromEnv("COLLECTOR", "_BASE_URL"); err != nil {
		return nil, err
	}

	cfg.Telegram.BaseURL = "https://api.telegram.org"
	cfg.Telegram.Timeout = 10 * time.Second
	if err := cfg.Telegram.LoadFromEnv("TELEGRAM", "_API_URL"); err != nil {
		return nil, err
	}
	cfg.Telegram.AccessToken = getEnv("TELEGRAM_ACCESS_TOKEN", "")
	devUserID, err := getInt64("TELEGRAM_DEV_USER_ID", 0)
	if err != nil {
		return nil, err
	}
	cfg.Telegram.DevUserID = devUserID

	cfg.Bridge.ControlTopic = getEnv("BRIDGE_CONTROL_TOPIC", "ET7044/write")
	cfg.Bridge.MirrorStream = getEnv("BRIDGE_MIRROR_STREAM", "telemetry:stream")

	if cfg.Watchdog.Interval, err = getDuration("WATCHDOG_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.Watchdog.UnknownTTL, err = getDuration("WATCHDOG_UNKNOWN_TTL", 3*time.Minute); err != nil {
		return nil, err
	}
	cfg.Watchdog.Topics = getList("WATCHDOG_TOPICS", DefaultWatchTopics)
	cfg.Watchdog.ExceptionTopics = getList("WATCHDOG_EXCEPTION_TOPICS", DefaultExceptionTopics)
	cfg.Watchdog.EventStream = getEnv("WATCHDOG_EVENT_STREAM", "watchdog:notifications")
	cfg.Watchdog.SnapshotKey = getEnv("WATCHDOG_SNAPSHOT_KEY", "watchdog:topics")

	cfg.UPSMerger.OutputTopic = getEnv("UPS_MERGER_OUTPUT_TOPIC", "UPS_Monitor")

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")
	maxBackups, err := getInt64("LOG_MAX_BACKUPS", 7)
	if err != nil {
		return nil, err
	}
	cfg.Log.MaxBackups = int(maxBackups)

	if cfg.Watchdog.Interval <= 0 {
		return nil, fmt.Errorf("WATCHDOG_INTERVAL must be positive")
	}
	if cfg.Telegram.AccessToken != "" && cfg.Telegram.DevUserID == 0 {
		return nil, fmt.Errorf("TELEGRAM_DEV_USER_ID is required when TELEGRAM_ACCESS_TOKEN is set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// getList 逗号分隔的列表
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		out := make([]string, len(defaultValue))
		copy(out, defaultValue)
		return out
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
