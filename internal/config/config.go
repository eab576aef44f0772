package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string
	DatabaseDSN      string
	Env              string
	LogLevel         string
	PingInterval     time.Duration
	PongWait         time.Duration
	MaxPayloadBytes  int64
	EventsPerSecond  int
	EventBurst       int
	PersistQueueSize int
}

var defaults = map[string]any{
	"APP_PORT":                 "8080",
	"DATABASE_DSN":             "chathub.db",
	"APP_ENV":                  "dev",
	"LOG_LEVEL":                "info",
	"WS_PING_INTERVAL_SECONDS": 25,
	"WS_PONG_WAIT_SECONDS":     60,
	"WS_MAX_PAYLOAD_BYTES":     1000000,
	"WS_EVENTS_PER_SECOND":     20,
	"WS_EVENT_BURST":           40,
	"PERSIST_QUEUE_SIZE":       1024,
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	return v
}

// Load 从环境变量读取配置，非法数值回退到默认值。
func Load() Config {
	return fromViper(newViper())
}

// LoadFile 在环境变量之外额外读取一个 YAML/JSON 配置文件，环境变量优先。
func LoadFile(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port:             v.GetString("APP_PORT"),
		DatabaseDSN:      v.GetString("DATABASE_DSN"),
		Env:              v.GetString("APP_ENV"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		PingInterval:     time.Duration(positive(v, "WS_PING_INTERVAL_SECONDS")) * time.Second,
		PongWait:         time.Duration(positive(v, "WS_PONG_WAIT_SECONDS")) * time.Second,
		MaxPayloadBytes:  int64(positive(v, "WS_MAX_PAYLOAD_BYTES")),
		EventsPerSecond:  positive(v, "WS_EVENTS_PER_SECOND"),
		EventBurst:       positive(v, "WS_EVENT_BURST"),
		PersistQueueSize: positive(v, "PERSIST_QUEUE_SIZE"),
	}
}

// positive 读取整型配置，解析失败或非正数时使用默认值。
func positive(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

// Validate 在启动前检查配置，避免带着明显错误的参数运行。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.PingInterval <= 0 || cfg.PongWait <= 0 {
		return errors.New("websocket heartbeat intervals must be positive")
	}
	if cfg.PingInterval >= cfg.PongWait {
		return fmt.Errorf("ping interval %s must be shorter than pong wait %s", cfg.PingInterval, cfg.PongWait)
	}
	if cfg.MaxPayloadBytes <= 0 {
		return errors.New("WS_MAX_PAYLOAD_BYTES must be positive")
	}
	return nil
}
