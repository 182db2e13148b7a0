package zlog

import (
	"fmt"

	"github.com/spf13/viper"
)

// FileConfig 轮转文件输出，tag 由 viper 匹配
type FileConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径，为空时不写文件
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个文件最大尺寸（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留的轮转文件数
	MaxAgeDay  int    `mapstructure:"max_age"`     // 轮转文件最多保留天数
	Compress   bool   `mapstructure:"compress"`    // 压缩轮转后的文件
}

// Config 日志配置，从服务 yaml 顶层读取
type Config struct {
	Service      string     `mapstructure:"service"`       // 每条日志附带的服务名
	Level        string     `mapstructure:"level"`         // debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"`      // json|console
	Stdout       bool       `mapstructure:"stdout"`        // 同时输出到终端
	File         FileConfig `mapstructure:"file"`          // 文件输出
	EnableMetric bool       `mapstructure:"enable_metric"` // 在 prometheus 中统计日志条数
}

// LoadConfig 读取 filePath，并用 ZLOG_ 环境变量覆盖
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	v.AutomaticEnv()
	v.SetEnvPrefix("ZLOG")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read log config: %w", err)
	}

	v.SetDefault("service", "relay-service")
	v.SetDefault("level", "info")
	v.SetDefault("encoding", "json")
	v.SetDefault("stdout", true)
	v.SetDefault("file.max_size", 100)
	v.SetDefault("file.max_backups", 60)
	v.SetDefault("file.max_age", 1)
	v.SetDefault("enable_metric", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode log config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验枚举字段并就地填充文件默认值
func (cfg *Config) Validate() error {
	if cfg.Service == "" {
		return fmt.Errorf("log config: service must not be empty")
	}

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log config: level must be one of debug/info/warn/error, got %q", cfg.Level)
	}

	switch cfg.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log config: encoding must be json or console, got %q", cfg.Encoding)
	}

	if !cfg.Stdout && cfg.File.Path == "" {
		return fmt.Errorf("log config: file.path is required when stdout is false")
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB <= 0 {
			cfg.File.MaxSizeMB = 100
		}
		if cfg.File.MaxBackups < 0 {
			cfg.File.MaxBackups = 60
		}
		if cfg.File.MaxAgeDay < 0 {
			cfg.File.MaxAgeDay = 30
		}
	}
	return nil
}
