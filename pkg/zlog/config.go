package zlog

import (
	"fmt"

	"github.com/spf13/viper"
)

// RotateConfig 本地日志文件轮转策略
type RotateConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径，为空则不写文件
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单文件最大容量（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留旧文件个数
	MaxAgeDay  int    `mapstructure:"max_age"`     // 最长保留天数
	Compress   bool   `mapstructure:"compress"`    // 旧文件是否 gzip 压缩
}

// Config 日志配置
type Config struct {
	Service      string       `mapstructure:"service"`       // 归属服务名
	Level        string       `mapstructure:"level"`         // debug|info|warn|error
	Encoding     string       `mapstructure:"encoding"`      // json|console
	Stdout       bool         `mapstructure:"stdout"`        // 是否同时输出到终端
	File         RotateConfig `mapstructure:"file"`          // 文件输出
	EnableMetric bool         `mapstructure:"enable_metric"` // 是否统计 Prometheus 日志计数
}

// LoadConfig 从指定 yaml 文件读取日志配置，环境变量（ZLOG_ 前缀）可覆盖
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ZLOG")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取日志配置文件失败：%w", err)
	}

	v.SetDefault("service", "unknown")
	v.SetDefault("level", "info")
	v.SetDefault("encoding", "json")
	v.SetDefault("stdout", true)
	v.SetDefault("enable_metric", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析日志配置失败：%w", err)
	}

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("配置错误：level 只能是 debug/info/warn/error")
	}
	switch cfg.Encoding {
	case "json", "console":
	default:
		return nil, fmt.Errorf("配置错误：encoding 只能是 json/console")
	}
	if !cfg.Stdout && cfg.File.Path == "" {
		return nil, fmt.Errorf("配置错误：stdout 为 false 时必须设置 file.path")
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB <= 0 {
			cfg.File.MaxSizeMB = 100
		}
		if cfg.File.MaxBackups < 0 {
			cfg.File.MaxBackups = 30
		}
		if cfg.File.MaxAgeDay < 0 {
			cfg.File.MaxAgeDay = 30
		}
	}

	return &cfg, nil
}
