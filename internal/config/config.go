package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 实时核心的可调参数，全部有默认值，测试可直接构造
type Config struct {
	// 连接
	AuthWindow     time.Duration `mapstructure:"auth_window"`      // 认证窗口，超时强制关闭
	AuthFailGrace  time.Duration `mapstructure:"auth_fail_grace"`  // 认证失败后留给错误帧刷出的时间
	SendBufferSize int           `mapstructure:"send_buffer_size"` // 每连接发送缓冲条数

	// 健康探测
	ProbeInterval time.Duration `mapstructure:"probe_interval"` // 探测周期
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`  // 单次探测的应答超时
	MaxMissed     int           `mapstructure:"max_missed"`     // 连续未应答多少次判定不健康

	// 重连窗口
	ReconnectSweep   time.Duration `mapstructure:"reconnect_sweep"`    // 重连调度周期
	ReconnectMax     int           `mapstructure:"reconnect_max"`      // 最大重连尝试次数
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`  // 退避基数
	ReconnectCap     time.Duration `mapstructure:"reconnect_cap"`      // 退避上限

	// 离线队列
	RetrySweep   time.Duration `mapstructure:"retry_sweep"`   // 重投递调度周期
	RetryMax     int           `mapstructure:"retry_max"`     // 单条消息最大重试次数
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // 重试退避基数
	RetryCap     time.Duration `mapstructure:"retry_cap"`     // 重试退避上限

	// 设备同步
	DeviceSyncInterval time.Duration `mapstructure:"device_sync_interval"` // 多端同步周期

	// 外部依赖调用超时
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`
}

// Default 返回与线上一致的默认参数
func Default() Config {
	return Config{
		AuthWindow:          10 * time.Second,
		AuthFailGrace:       500 * time.Millisecond,
		SendBufferSize:      256,
		ProbeInterval:       15 * time.Second,
		ProbeTimeout:        10 * time.Second,
		MaxMissed:           3,
		ReconnectSweep:      5 * time.Second,
		ReconnectMax:        10,
		ReconnectBackoff:    time.Second,
		ReconnectCap:        30 * time.Second,
		RetrySweep:          30 * time.Second,
		RetryMax:            5,
		RetryBackoff:        time.Second,
		RetryCap:            30 * time.Second,
		DeviceSyncInterval:  60 * time.Second,
		CollaboratorTimeout: 3 * time.Second,
	}
}

// Load 从已读入的 viper 全局配置取 realtime 段，缺省项落回默认值
func Load() (Config, error) {
	cfg := Default()
	if sub := viper.Sub("realtime"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("解析 realtime 配置失败：%w", err)
		}
	}
	if cfg.MaxMissed <= 0 || cfg.ReconnectMax <= 0 || cfg.RetryMax <= 0 {
		return cfg, fmt.Errorf("配置错误：max_missed/reconnect_max/retry_max 必须为正数")
	}
	return cfg, nil
}
