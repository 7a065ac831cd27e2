package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置（通知审计日志，Host 为空时不启用）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置（Addr 为空时不启用）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	PublishTimeout time.Duration
	InboxSize      int // 分发队列长度，0 使用默认值
}

// HTTPConfig 出站 HTTP 调用配置（collector / Telegram）
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Enabled 是否配置了数据库
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) error {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s_PORT %q: %w", prefix, port, err)
		}
		c.Port = p
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_NAME"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	return nil
}

// Enabled 是否配置了 Redis
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) error {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid %s_DB %q: %w", prefix, db, err)
		}
		c.DB = n
	}
	return nil
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) error {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		n, err := strconv.Atoi(qos)
		if err != nil || n < 0 || n > 2 {
			return fmt.Errorf("invalid %s_QOS %q", prefix, qos)
		}
		c.QoS = byte(n)
	}
	if timeout := os.Getenv(prefix + "_PUBLISH_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid %s_PUBLISH_TIMEOUT %q: %w", prefix, timeout, err)
		}
		c.PublishTimeout = d
	}
	if size := os.Getenv(prefix + "_INBOX_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s_INBOX_SIZE %q", prefix, size)
		}
		c.InboxSize = n
	}
	return nil
}

// LoadFromEnv 从环境变量加载 HTTP 配置，prefix 如 "COLLECTOR"
func (c *HTTPConfig) LoadFromEnv(prefix string, urlSuffix string) error {
	if baseURL := os.Getenv(prefix + urlSuffix); baseURL != "" {
		c.BaseURL = baseURL
	}
	if timeout := os.Getenv(prefix + "_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid %s_TIMEOUT %q: %w", prefix, timeout, err)
		}
		c.Timeout = d
	}
	return nil
}
