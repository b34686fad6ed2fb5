package cache

import "github.com/ceyewan/fnportal/xerrors"

// 存储模式
const (
	ModeStandalone  = "standalone"
	ModeDistributed = "distributed"
)

// Config 结果缓存配置
type Config struct {
	// Mode 存储模式: "standalone"（进程内，默认）| "distributed"（Redis）
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"`

	// Prefix Redis 键前缀（默认："fnportal:cache:"）
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`

	// Serializer Redis 条目编码: "json" | "msgpack"
	Serializer string `json:"serializer" yaml:"serializer" mapstructure:"serializer"`

	// Capacity 进程内存储的最大条目数（默认：10000）
	Capacity int `json:"capacity" yaml:"capacity" mapstructure:"capacity"`

	// Channel 跨实例失效通知使用的 Pub/Sub 频道
	Channel string `json:"channel" yaml:"channel" mapstructure:"channel"`
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStandalone
	}
	if c.Prefix == "" {
		c.Prefix = "fnportal:cache:"
	}
	if c.Capacity == 0 {
		c.Capacity = 10000
	}
	if c.Channel == "" {
		c.Channel = "fnportal:cache:invalidate"
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeStandalone, ModeDistributed:
	default:
		return xerrors.Invalidf("cache: unknown mode %q", c.Mode)
	}
	if c.Capacity < 0 {
		return xerrors.Invalidf("cache: capacity must not be negative")
	}
	return nil
}
