package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Relay  RelayConfig  `mapstructure:"relay"`
	WS     WSConfig     `mapstructure:"ws"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
}

type ServerConfig struct {
	HTTPPort        int             `mapstructure:"http_port"`
	NodeID          string          `mapstructure:"node_id"` // 默认取主机名
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 限流，作用于 /ws 升级和在线状态查询
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // 每秒请求数
	Burst   int     `mapstructure:"burst"`
}

type RelayConfig struct {
	DeliveryDelay time.Duration `mapstructure:"delivery_delay"`
}

type WSConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	PresenceTTL     time.Duration `mapstructure:"presence_ttl"`
	PresenceRefresh time.Duration `mapstructure:"presence_refresh"` // 在线记录的心跳间隔，需小于 presence_ttl
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	PresenceTopic string   `mapstructure:"presence_topic"`
}

// Env 读取 APP_ENV，未设置时为 dev
func Env() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "dev"
}

// Load 读取 path；path 为空时读取 configs/config.<APP_ENV>.yaml
// RELAY_SECTION_KEY 环境变量覆盖文件中的值，PORT 覆盖 server.http_port
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.http_port", "RELAY_SERVER_HTTP_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind PORT: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(fmt.Sprintf("config.%s", Env()))
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 没有配置文件时仅靠默认值和环境变量也能运行
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = hostname()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 3001)
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.rate", 20.0)
	v.SetDefault("server.rate_limit.burst", 40)

	v.SetDefault("relay.delivery_delay", 500*time.Millisecond)

	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.ping_period", 54*time.Second)
	v.SetDefault("ws.max_message_size", 64*1024)
	v.SetDefault("ws.send_buffer", 256)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.presence_ttl", 5*time.Minute)
	v.SetDefault("redis.presence_refresh", time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.presence_topic", "relay.presence.changed")
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Rate <= 0 || c.Server.RateLimit.Burst < 1) {
		return fmt.Errorf("config: server.rate_limit needs a positive rate and burst")
	}
	if c.Relay.DeliveryDelay <= 0 {
		return fmt.Errorf("config: relay.delivery_delay must be positive, got %s", c.Relay.DeliveryDelay)
	}
	if c.WS.PongWait <= 0 || c.WS.WriteWait <= 0 {
		return fmt.Errorf("config: ws.pong_wait and ws.write_wait must be positive")
	}
	if c.WS.PingPeriod <= 0 || c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("config: ws.ping_period (%s) must be positive and below ws.pong_wait (%s)",
			c.WS.PingPeriod, c.WS.PongWait)
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("config: ws.send_buffer must be positive, got %d", c.WS.SendBuffer)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Redis.Enabled && (c.Redis.PresenceRefresh <= 0 || c.Redis.PresenceRefresh >= c.Redis.PresenceTTL) {
		return fmt.Errorf("config: redis.presence_refresh (%s) must be positive and below presence_ttl (%s)",
			c.Redis.PresenceRefresh, c.Redis.PresenceTTL)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.PresenceTopic == "") {
		return fmt.Errorf("config: kafka.brokers and kafka.presence_topic are required when kafka is enabled")
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}
