package connector

import (
	"time"

	"github.com/ceyewan/fnportal/xerrors"
)

// RedisConfig Redis 连接配置，只有 Addr 必填
type RedisConfig struct {
	Name     string `mapstructure:"name"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// PoolSize 默认 10
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
	// DialTimeout 默认 5s，读写超时默认 3s
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c *RedisConfig) setDefaults() {
	orDefault(&c.Name, "default")
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = 0
	}
	orDefault(&c.DialTimeout, 5*time.Second)
	orDefault(&c.ReadTimeout, 3*time.Second)
	orDefault(&c.WriteTimeout, 3*time.Second)
}

func (c *RedisConfig) validate() error {
	switch {
	case c.Addr == "":
		return xerrors.Wrap(ErrConfig, "redis addr is required")
	case c.DB < 0:
		return xerrors.Wrapf(ErrConfig, "redis db %d", c.DB)
	}
	return nil
}

// NATSConfig NATS 连接配置，只有 URL 必填。
// Username/Password 与 Token 任选其一。
type NATSConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`

	// Timeout 建连超时，默认 5s
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxReconnects 默认 60 次，间隔 ReconnectWait 默认 2s
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	// PingInterval 默认 2m，连续 MaxPingsOut 次无响应视为断开
	PingInterval time.Duration `mapstructure:"ping_interval"`
	MaxPingsOut  int           `mapstructure:"max_pings_out"`
}

func (c *NATSConfig) setDefaults() {
	orDefault(&c.Name, "default")
	orDefault(&c.Timeout, 5*time.Second)
	orDefault(&c.MaxReconnects, 60)
	orDefault(&c.ReconnectWait, 2*time.Second)
	orDefault(&c.PingInterval, 2*time.Minute)
	orDefault(&c.MaxPingsOut, 2)
}

func (c *NATSConfig) validate() error {
	if c.URL == "" {
		return xerrors.Wrap(ErrConfig, "nats url is required")
	}
	return nil
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}
